package serialization

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
)

// rxQueue buffers bytes between the port reader and the frame decoder. The
// writer blocks while the ring is full, so no byte of a frame is dropped.
type rxQueue struct {
	ring      *ringbuffer.RingBuffer
	data      chan struct{}
	space     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

func newRxQueue(size int) *rxQueue {
	return &rxQueue{
		ring:   ringbuffer.New(size),
		data:   make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// push reports false once the queue is closed.
func (q *rxQueue) push(b []byte) bool {
	for len(b) > 0 {
		n, err := q.ring.Write(b)
		b = b[n:]
		if n > 0 {
			signal(q.data)
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			return false
		}
		if len(b) == 0 {
			break
		}
		select {
		case <-q.space:
		case <-q.closed:
			return false
		}
	}
	return true
}

// Read blocks until data is queued. Data queued before close is still
// returned; after that Read returns the close error.
func (q *rxQueue) Read(p []byte) (int, error) {
	for {
		n, err := q.ring.TryRead(p)
		if n > 0 {
			signal(q.space)
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
		select {
		case <-q.data:
		case <-q.closed:
			if n, _ := q.ring.TryRead(p); n > 0 {
				return n, nil
			}
			return 0, q.err
		}
	}
}

// close ends the stream with err, or io.EOF when err is nil.
func (q *rxQueue) close(err error) {
	q.closeOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		q.err = err
		close(q.closed)
	})
}

func (q *rxQueue) buffered() int {
	return q.ring.Length()
}
