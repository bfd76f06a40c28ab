// Package hostloop provides the single-goroutine execution context on which
// managed records are built, completion callbacks run and events are
// delivered. Work runs strictly in the order it was posted.
package hostloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/internal/groutine"
)

var (
	ErrNotRunning = errors.New("host loop is not running")
	ErrStopped    = errors.New("host loop stopped")
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopping
	stateStopped
)

// Loop is an unbounded FIFO of functions executed on one goroutine.
// Post never blocks and never drops work.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	state  atomic.Int32
	gid    atomic.Uint64
	logger *logrus.Logger
}

// New creates a stopped loop. A nil logger discards output.
func New(logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the loop goroutine. Cancelling ctx stops the loop after the
// work already posted has run.
func (l *Loop) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(stateIdle, stateRunning) {
		return fmt.Errorf("host loop already started")
	}
	started := make(chan struct{})
	groutine.Go(ctx, "gatts-host-loop", func(ctx context.Context) {
		l.gid.Store(groutine.GetGID())
		close(started)
		l.run(ctx)
	}, "component", "hostloop")
	<-started
	return nil
}

// Post queues fn. It reports false once the loop is stopping.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if s := l.state.Load(); s == stateStopping || s == stateStopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it. Called from the loop itself it
// runs fn inline.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if l.InLoop() {
		fn()
		return nil
	}
	if l.state.Load() != stateRunning {
		return ErrNotRunning
	}
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) InLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.GetGID()
}

// Pending returns the number of queued functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stop refuses new work, runs everything already queued and waits for the
// loop goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state.CompareAndSwap(stateIdle, stateStopped) {
		l.mu.Unlock()
		close(l.done)
		return
	}
	l.state.CompareAndSwap(stateRunning, stateStopping)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(ctx context.Context) {
	defer func() {
		l.state.Store(stateStopped)
		close(l.done)
	}()

	ctxDone := ctx.Done()
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}

		if l.state.Load() == stateStopping {
			// Post takes mu before checking state, so an empty queue here is final
			if l.Pending() == 0 {
				return
			}
			continue
		}

		select {
		case <-l.wake:
		case <-ctxDone:
			l.mu.Lock()
			l.state.CompareAndSwap(stateRunning, stateStopping)
			l.mu.Unlock()
			ctxDone = nil
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Recovered panic on host loop")
		}
	}()
	fn()
}
