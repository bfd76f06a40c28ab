package command

import (
	"sync"
	"sync/atomic"
)

// maxPooledSize keeps oversized buffers out of the pool.
const maxPooledSize = 4096

// BufferPool recycles the native buffers commands own while in flight.
type BufferPool struct {
	pool        sync.Pool
	outstanding atomic.Int64
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, 0, 64)
				return &b
			},
		},
	}
}

// get returns a zeroed buffer of n bytes.
func (p *BufferPool) get(n int) *[]byte {
	p.outstanding.Add(1)
	if n > maxPooledSize {
		b := make([]byte, n)
		return &b
	}
	bp := p.pool.Get().(*[]byte)
	if cap(*bp) < n {
		*bp = make([]byte, n)
	} else {
		*bp = (*bp)[:n]
		clear(*bp)
	}
	return bp
}

func (p *BufferPool) put(bp *[]byte) {
	p.outstanding.Add(-1)
	if cap(*bp) > maxPooledSize {
		return
	}
	*bp = (*bp)[:0]
	p.pool.Put(bp)
}

// Outstanding is the number of buffers handed out and not yet returned.
func (p *BufferPool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Leases is the set of buffers owned by one command. Alloc has the shape of
// convert.Allocator so converters can fill command-owned memory directly.
type Leases struct {
	pool     *BufferPool
	mu       sync.Mutex
	bufs     []*[]byte
	released atomic.Bool
}

// NewLeases starts an empty lease set on p.
func (p *BufferPool) NewLeases() *Leases {
	return &Leases{pool: p}
}

// Alloc hands out a zeroed buffer of n bytes that stays valid until Release.
func (l *Leases) Alloc(n int) []byte {
	if l.released.Load() {
		// late allocation after release is not tracked
		return make([]byte, n)
	}
	bp := l.pool.get(n)
	l.mu.Lock()
	l.bufs = append(l.bufs, bp)
	l.mu.Unlock()
	return *bp
}

// Len is the number of buffers currently leased.
func (l *Leases) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bufs)
}

// Release returns every buffer to the pool. Only the first call does
// anything; it reports whether this call released.
func (l *Leases) Release() bool {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return false
	}
	l.mu.Lock()
	bufs := l.bufs
	l.bufs = nil
	l.mu.Unlock()
	for _, bp := range bufs {
		l.pool.put(bp)
	}
	return true
}

// Released reports whether Release has run.
func (l *Leases) Released() bool {
	if l == nil {
		return false
	}
	return l.released.Load()
}
