package command

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/internal/groutine"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/hostloop"
	"github.com/srg/gattsd/pkg/native"
)

const (
	DefaultWorkers    = 2
	DefaultQueueDepth = 64
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Workers    int            // Worker goroutines (0 = DefaultWorkers)
	QueueDepth int            // Pending command capacity (0 = DefaultQueueDepth)
	Logger     *logrus.Logger // Logger instance (nil = discard)
}

// Dispatcher executes commands against a driver on a pool of workers and
// completes them on the host loop.
type Dispatcher struct {
	driver native.Driver
	loop   *hostloop.Loop
	logger *logrus.Logger

	workers int
	queue   chan *Command

	// mu guards started/stopping against Submit racing with Stop
	mu       sync.RWMutex
	started  bool
	stopping bool
	group    *groutine.Group
	stopOnce sync.Once
	stopped  chan struct{}

	submitted atomic.Int64
	completed atomic.Int64
}

// NewDispatcher creates a dispatcher; call Start before Submit.
func NewDispatcher(driver native.Driver, loop *hostloop.Loop, opts *DispatcherOptions) *Dispatcher {
	if opts == nil {
		opts = &DispatcherOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Dispatcher{
		driver:  driver,
		loop:    loop,
		logger:  logger,
		workers: workers,
		queue:   make(chan *Command, depth),
		stopped: make(chan struct{}),
	}
}

// Start launches the workers. ctx is passed to every driver call; cancelling
// it stops the dispatcher.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("command dispatcher already started")
	}
	if d.stopping {
		return ErrDispatcherStopped
	}
	d.started = true
	d.group = groutine.NewGroup(ctx)
	for i := 0; i < d.workers; i++ {
		d.group.Go(fmt.Sprintf("gatts-worker-%d", i), d.work, "component", "command")
	}
	groutine.Go(ctx, "gatts-dispatcher-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			d.Stop()
		case <-d.stopped:
		}
	})
	return nil
}

// Submit queues cmd and returns at once. On error the command is not queued
// and its buffers have been released; the callback will not run.
func (d *Dispatcher) Submit(cmd *Command) error {
	if !cmd.advance(StateCreated, StateQueued) {
		return ErrAlreadySubmitted
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var err error
	switch {
	case d.stopping:
		err = ErrDispatcherStopped
	case !d.started:
		err = ErrNotStarted
	default:
		select {
		case d.queue <- cmd:
			d.submitted.Add(1)
			d.logger.WithFields(logrus.Fields{
				"verb":        cmd.Verb,
				"conn_handle": cmd.ConnHandle,
			}).Debug("Command queued")
			return nil
		default:
			err = ErrQueueFull
		}
	}

	cmd.state.Store(int32(StateCompleted))
	cmd.leases.Release()
	return err
}

// Stop refuses new commands, completes every queued command that has not
// started with ErrDispatcherStopped and waits for the workers to exit.
// In-flight driver calls run to completion.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopping = true
		started := d.started
		close(d.queue)
		d.mu.Unlock()

		if started {
			d.group.Wait()
		}
		close(d.stopped)
	})
}

// Stats reports submitted and completed command counts.
func (d *Dispatcher) Stats() (submitted, completed int64) {
	return d.submitted.Load(), d.completed.Load()
}

func (d *Dispatcher) isStopping() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stopping
}

func (d *Dispatcher) work(ctx context.Context) {
	for cmd := range d.queue {
		if d.isStopping() {
			d.finish(cmd, StateQueued, ErrDispatcherStopped)
			continue
		}
		if !cmd.advance(StateQueued, StateExecuting) {
			continue
		}
		cmd.status = d.execute(ctx, cmd)
		d.finish(cmd, StateExecuting, nil)
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd *Command) (status native.Status) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"verb":  cmd.Verb,
				"panic": r,
			}).Error("Recovered panic in driver call")
			status = native.ErrInternal
		}
	}()
	status = cmd.exec(ctx, d.driver)
	d.logger.WithFields(logrus.Fields{
		"verb":        cmd.Verb,
		"conn_handle": cmd.ConnHandle,
		"status":      status.String(),
	}).Debug("Driver call returned")
	return status
}

// finish moves cmd to Completed and schedules its completion on the loop.
func (d *Dispatcher) finish(cmd *Command, from State, err error) {
	if !cmd.advance(from, StateCompleted) {
		return
	}
	d.completed.Add(1)
	if !d.loop.Post(func() { d.complete(cmd, err) }) {
		d.logger.WithFields(logrus.Fields{
			"verb":        cmd.Verb,
			"conn_handle": cmd.ConnHandle,
		}).Warn("Host loop stopped, dropping command callback")
		cmd.leases.Release()
	}
}

// complete runs on the host loop.
func (d *Dispatcher) complete(cmd *Command, err error) {
	defer cmd.leases.Release()

	var result convert.Object
	if err == nil && cmd.status != native.Success {
		err = &DriverStatusError{Verb: cmd.Verb, Status: cmd.status}
	}
	if err == nil && cmd.result != nil {
		result, err = cmd.result()
		if err != nil {
			result = nil
		}
	}
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"verb":        cmd.Verb,
			"conn_handle": cmd.ConnHandle,
			"error":       err,
		}).Debug("Command failed")
	}

	if cmd.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"verb":  cmd.Verb,
				"panic": r,
			}).Error("Recovered panic in command callback")
		}
	}()
	cmd.callback(result, err)
}
