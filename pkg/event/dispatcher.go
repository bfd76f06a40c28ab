package event

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/hostloop"
	"github.com/srg/gattsd/pkg/native"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Handler receives envelopes on the host loop.
type Handler func(env convert.Object)

// Observer sees raw events synchronously, in emission order, before they are
// posted to the host loop.
type Observer interface {
	Observe(evt *native.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(evt *native.Event)

// Observe calls f(evt).
func (f ObserverFunc) Observe(evt *native.Event) { f(evt) }

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Logger  *logrus.Logger   // Logger instance (nil = discard)
	Now     func() time.Time // Wall clock (nil = time.Now)
	History *History         // Optional diagnostic history
}

// Dispatcher is the driver's EventSink. It stamps each event as it arrives
// and delivers the envelope to every subscriber on the host loop, once, in
// arrival order.
type Dispatcher struct {
	loop    *hostloop.Loop
	clock   *Clock
	logger  *logrus.Logger
	history *History

	// emitMu orders stamping, observers and posting across driver goroutines
	emitMu    sync.Mutex
	observers []Observer

	subMu   sync.Mutex
	subs    *orderedmap.OrderedMap[uint64, Handler]
	nextSub uint64

	received  atomic.Int64
	delivered atomic.Int64
	refused   atomic.Int64
}

var _ native.EventSink = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher delivering on loop.
func NewDispatcher(loop *hostloop.Loop, opts *DispatcherOptions) *Dispatcher {
	if opts == nil {
		opts = &DispatcherOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Dispatcher{
		loop:    loop,
		clock:   NewClock(opts.Now),
		logger:  logger,
		history: opts.History,
		subs:    orderedmap.New[uint64, Handler](),
	}
}

// AddObserver registers o for every subsequent event.
func (d *Dispatcher) AddObserver(o Observer) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.observers = append(d.observers, o)
}

// Subscribe registers h and returns a function that removes it. Handlers run
// in subscription order.
func (d *Dispatcher) Subscribe(h Handler) (unsubscribe func()) {
	d.subMu.Lock()
	d.nextSub++
	id := d.nextSub
	d.subs.Set(id, h)
	d.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subMu.Lock()
			d.subs.Delete(id)
			d.subMu.Unlock()
		})
	}
}

// OnEvent implements native.EventSink.
func (d *Dispatcher) OnEvent(evt *native.Event) {
	if evt == nil {
		return
	}
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.received.Add(1)
	at := d.clock.Stamp()
	for _, o := range d.observers {
		o.Observe(evt)
	}

	if !d.loop.Post(func() { d.deliver(evt, at) }) {
		d.refused.Add(1)
		d.logger.WithFields(logrus.Fields{
			"kind":        Kind(evt.ID).String(),
			"conn_handle": evt.ConnHandle,
		}).Warn("Host loop stopped, event not delivered")
	}
}

func (d *Dispatcher) deliver(evt *native.Event, at time.Time) {
	env := Build(evt, at, d.logger)

	if d.logger.IsLevelEnabled(logrus.DebugLevel) {
		d.logger.WithFields(logrus.Fields{
			"kind":        env[FieldKind],
			"conn_handle": evt.ConnHandle,
			"time":        env[FieldTime],
		}).Debug("Delivering event")
	}

	if d.history != nil {
		if err := d.history.Record(env); err != nil {
			d.logger.WithError(err).Warn("Failed to record event history")
		}
	}

	for _, h := range d.handlers() {
		d.invoke(h, env)
	}
	d.delivered.Add(1)
}

func (d *Dispatcher) handlers() []Handler {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	out := make([]Handler, 0, d.subs.Len())
	for p := d.subs.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

func (d *Dispatcher) invoke(h Handler, env convert.Object) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"kind":  env[FieldKind],
				"panic": r,
			}).Error("Recovered panic in event subscriber")
		}
	}()
	h(env)
}

// Stats reports events received from the driver, delivered on the loop and
// refused because the loop had stopped.
func (d *Dispatcher) Stats() (received, delivered, refused int64) {
	return d.received.Load(), d.delivered.Load(), d.refused.Load()
}
