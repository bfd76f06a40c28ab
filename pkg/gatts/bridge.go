// Package gatts is the managed-side surface of the GATT server: a table of
// callable commands, each taking a managed record and an asynchronous
// callback, and a subscription point for event envelopes.
package gatts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/pkg/command"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/event"
	"github.com/srg/gattsd/pkg/hostloop"
	"github.com/srg/gattsd/pkg/native"
)

// Callback receives a command outcome on the host loop.
type Callback = command.Callback

// CommandFunc starts one managed call. A non-nil error means the call was
// rejected before reaching the driver and cb will not run.
type CommandFunc func(input convert.Object, cb Callback) error

// EventSource is implemented by drivers that raise events.
type EventSource interface {
	SetEventSink(sink native.EventSink)
}

var ErrNotStarted = errors.New("gatts bridge not started")

// UnknownCommandError is returned by Call for a verb the bridge does not
// expose.
type UnknownCommandError struct {
	Verb string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Verb)
}

// Options configures a Bridge.
type Options struct {
	Logger      *logrus.Logger   // Logger instance (nil = discard)
	Workers     int              // Driver call workers (0 = command.DefaultWorkers)
	QueueDepth  int              // Pending command capacity (0 = command.DefaultQueueDepth)
	HistorySize uint32           // Event history size (0 = no history)
	Now         func() time.Time // Event clock source (nil = time.Now)
}

// Bridge binds a driver to the host loop, the command dispatcher and the
// event dispatcher.
type Bridge struct {
	driver   native.Driver
	logger   *logrus.Logger
	loop     *hostloop.Loop
	events   *event.Dispatcher
	commands *command.Dispatcher
	pool     *command.BufferPool
	auth     *command.AuthTracker
	history  *event.History
	table    map[string]CommandFunc

	started atomic.Bool
}

// New wires a bridge around driver. If the driver implements EventSource its
// events are routed to the bridge.
func New(driver native.Driver, opts *Options) (*Bridge, error) {
	if driver == nil {
		return nil, fmt.Errorf("failed to create bridge: driver is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	var history *event.History
	if opts.HistorySize > 0 {
		var err error
		if history, err = event.NewHistory(opts.HistorySize); err != nil {
			return nil, fmt.Errorf("failed to create bridge: %w", err)
		}
	}

	loop := hostloop.New(logger)
	b := &Bridge{
		driver:  driver,
		logger:  logger,
		loop:    loop,
		pool:    command.NewBufferPool(),
		auth:    command.NewAuthTracker(),
		history: history,
		events: event.NewDispatcher(loop, &event.DispatcherOptions{
			Logger:  logger,
			Now:     opts.Now,
			History: history,
		}),
		commands: command.NewDispatcher(driver, loop, &command.DispatcherOptions{
			Workers:    opts.Workers,
			QueueDepth: opts.QueueDepth,
			Logger:     logger,
		}),
	}
	b.events.AddObserver(b.auth)
	b.table = b.commandTable()

	if src, ok := driver.(EventSource); ok {
		src.SetEventSink(b.events)
	}
	return b, nil
}

// Start runs the host loop and the command workers until ctx is cancelled
// or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("gatts bridge already started")
	}
	if err := b.loop.Start(ctx); err != nil {
		return err
	}
	if err := b.commands.Start(ctx); err != nil {
		b.loop.Stop()
		return err
	}
	b.logger.WithField("commands", len(b.table)).Debug("GATTS bridge started")
	return nil
}

// Stop completes outstanding commands, delivers queued events and stops.
func (b *Bridge) Stop() {
	b.commands.Stop()
	b.loop.Stop()
}

// EventSink is the sink drivers without EventSource support must be given.
func (b *Bridge) EventSink() native.EventSink {
	return b.events
}

// Commands returns the command table.
func (b *Bridge) Commands() map[string]CommandFunc {
	out := make(map[string]CommandFunc, len(b.table))
	for verb, fn := range b.table {
		out[verb] = fn
	}
	return out
}

// Verbs lists the command names in sorted order.
func (b *Bridge) Verbs() []string {
	verbs := make([]string, 0, len(b.table))
	for verb := range b.table {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return verbs
}

// Call runs the command named verb.
func (b *Bridge) Call(verb string, input convert.Object, cb Callback) error {
	fn, ok := b.table[verb]
	if !ok {
		return &UnknownCommandError{Verb: verb}
	}
	return fn(input, cb)
}

// CallSync runs verb and waits for its callback. It must not be called from
// the host loop.
func (b *Bridge) CallSync(ctx context.Context, verb string, input convert.Object) (convert.Object, error) {
	if b.loop.InLoop() {
		return nil, fmt.Errorf("%s: CallSync would block the host loop", verb)
	}
	type outcome struct {
		result convert.Object
		err    error
	}
	done := make(chan outcome, 1)
	if err := b.Call(verb, input, func(result convert.Object, err error) {
		done <- outcome{result, err}
	}); err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe delivers every event envelope to fn on the host loop.
func (b *Bridge) Subscribe(fn func(env convert.Object)) (unsubscribe func()) {
	return b.events.Subscribe(fn)
}

// EventKinds lists the event kinds for registration with the host.
func (b *Bridge) EventKinds() []event.KindEntry {
	return event.Kinds()
}

// History returns the event history, or nil when disabled.
func (b *Bridge) History() *event.History {
	return b.history
}

// Loop returns the host loop callbacks and events run on.
func (b *Bridge) Loop() *hostloop.Loop {
	return b.loop
}

// OutstandingBuffers reports command buffers not yet released.
func (b *Bridge) OutstandingBuffers() int64 {
	return b.pool.Outstanding()
}
