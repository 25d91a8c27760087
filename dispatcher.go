package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// SinkID identifies a sink registration on a Dispatcher.
type SinkID uint64

// Sink receives every message a Dispatcher delivers. Returning an error
// aborts the delivery; sinks registered after it are not called.
//
// The context passed to a sink marks the delivery in progress. A sink that
// dispatches again with that context (or one derived from it) gets
// ErrReentrantDispatch. A dispatch with any other context is queued.
type Sink func(ctx context.Context, msg *Message) error

type registration struct {
	id       SinkID
	sink     Sink
	pipeline pipz.Chainable[*Message]
}

// deliver runs the sink, through its pipeline when options were given.
func (r registration) deliver(ctx context.Context, msg *Message) error {
	if r.pipeline == nil {
		return r.sink(ctx, msg)
	}
	_, err := r.pipeline.Process(ctx, msg)
	return err
}

type deliveryKey struct{}

// deliveryMark records the dispatchers whose delivery a context belongs to.
type deliveryMark struct {
	dispatcher *Dispatcher
	parent     *deliveryMark
}

// Dispatcher fans actions out to registered sinks. Every dispatch builds
// one Message and hands it to each sink in registration order, on the
// caller's goroutine, before returning.
//
// Deliveries never overlap. A dispatch that arrives while a delivery is
// running, from another goroutine or from a sink using an unrelated
// context, is queued and returns nil at once; the goroutine already
// delivering runs queued messages in arrival order before it returns.
// Failures of queued deliveries are reported through DispatchFailed and
// the metrics provider only.
//
// Sink registration may happen at any time, including from inside a
// sink; a delivery uses the sinks registered when it started.
type Dispatcher struct {
	name          string
	clock         clockz.Clock
	metrics       MetricsProvider
	slowThreshold time.Duration

	mu     sync.RWMutex
	sinks  []registration
	nextID SinkID

	queueMu    sync.Mutex
	delivering bool
	queue      []pending

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64
	rejected   atomic.Uint64
	queued     atomic.Uint64
}

// pending is a dispatch waiting for the current delivery to finish.
type pending struct {
	ctx    context.Context
	origin Origin
	action Action
	at     time.Time
}

// NewDispatcher creates a Dispatcher with no sinks.
//
// The name identifies the dispatcher in errors and signals.
func NewDispatcher(name string) *Dispatcher {
	return &Dispatcher{
		name:  name,
		clock: clockz.RealClock,
	}
}

// Clock sets a custom clock for message timestamps and sink timing.
// Use this with clockz.FakeClock for deterministic tests.
func (d *Dispatcher) Clock(clock clockz.Clock) *Dispatcher {
	d.clock = clock
	return d
}

// Metrics sets a metrics provider for observability integration.
func (d *Dispatcher) Metrics(provider MetricsProvider) *Dispatcher {
	d.metrics = provider
	return d
}

// SlowSinkThreshold reports sinks that take longer than threshold through
// the SinkSlow signal and MetricsProvider.OnSlowSink. Zero disables the check.
func (d *Dispatcher) SlowSinkThreshold(threshold time.Duration) *Dispatcher {
	d.slowThreshold = threshold
	return d
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string {
	return d.name
}

// Register appends sink to the delivery list and returns its id.
//
// Registering the same sink twice yields two deliveries per dispatch.
func (d *Dispatcher) Register(sink Sink, opts ...SinkOption) SinkID {
	reg := registration{sink: sink}
	if len(opts) > 0 {
		reg.pipeline = buildPipeline(sinkProcessor(sink), opts)
	}

	d.mu.Lock()
	d.nextID++
	reg.id = d.nextID
	d.sinks = append(d.sinks, reg)
	d.mu.Unlock()

	capitan.Emit(context.Background(), SinkRegistered,
		KeyDispatcher.Field(d.name),
		KeySink.Field(int(reg.id)),
	)
	return reg.id
}

// Unregister removes the sink registered under id. It returns ErrNotFound
// if no such registration exists.
func (d *Dispatcher) Unregister(id SinkID) error {
	d.mu.Lock()
	idx := -1
	for i, reg := range d.sinks {
		if reg.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher %s: sink %d: %w", d.name, id, ErrNotFound)
	}
	sinks := make([]registration, 0, len(d.sinks)-1)
	sinks = append(sinks, d.sinks[:idx]...)
	sinks = append(sinks, d.sinks[idx+1:]...)
	d.sinks = sinks
	d.mu.Unlock()

	capitan.Emit(context.Background(), SinkUnregistered,
		KeyDispatcher.Field(d.name),
		KeySink.Field(int(id)),
	)
	return nil
}

// Sinks returns the number of registered sinks.
func (d *Dispatcher) Sinks() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

// DispatchFromView delivers an action raised by user interaction.
func (d *Dispatcher) DispatchFromView(ctx context.Context, action Action) error {
	return d.dispatch(ctx, OriginView, action)
}

// DispatchFromServer delivers an action that arrived from a remote or
// system source. Messages are tagged OriginServer.
func (d *Dispatcher) DispatchFromServer(ctx context.Context, action Action) error {
	return d.dispatch(ctx, OriginServer, action)
}

func (d *Dispatcher) dispatch(ctx context.Context, origin Origin, action Action) error {
	start := d.clock.Now()
	d.dispatched.Add(1)

	if err := checkAction(action); err != nil {
		d.reject(ctx, "validate", start, err)
		return fmt.Errorf("dispatcher %s: %w", d.name, err)
	}
	if d.inDelivery(ctx) {
		d.reject(ctx, "reentrant", start, ErrReentrantDispatch)
		return fmt.Errorf("dispatcher %s: %s: %w", d.name, action.Kind(), ErrReentrantDispatch)
	}

	d.queueMu.Lock()
	if d.delivering {
		d.queue = append(d.queue, pending{
			ctx:    context.WithoutCancel(ctx),
			origin: origin,
			action: action,
			at:     start,
		})
		d.queueMu.Unlock()
		d.queued.Add(1)
		capitan.Emit(ctx, DispatchQueued,
			KeyDispatcher.Field(d.name),
			KeyOrigin.Field(origin.String()),
			KeyKind.Field(string(action.Kind())),
		)
		return nil
	}
	d.delivering = true
	d.queueMu.Unlock()

	drained := false
	defer func() {
		// A panicking sink leaves the queue behind; drop it so later
		// dispatches are not queued forever.
		if !drained {
			d.queueMu.Lock()
			d.delivering = false
			d.queue = nil
			d.queueMu.Unlock()
		}
	}()

	err := d.deliver(ctx, origin, action, start)
	d.drain()
	drained = true
	return err
}

// drain delivers queued messages until the queue is empty, then releases
// the delivering flag.
func (d *Dispatcher) drain() {
	for {
		d.queueMu.Lock()
		if len(d.queue) == 0 {
			d.delivering = false
			d.queue = nil
			d.queueMu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.queueMu.Unlock()

		_ = d.deliver(next.ctx, next.origin, next.action, next.at) //nolint:errcheck // Reported through DispatchFailed
	}
}

// deliver hands one message to every sink. The caller holds the
// delivering flag.
func (d *Dispatcher) deliver(ctx context.Context, origin Origin, action Action, start time.Time) error {
	msg, err := newMessage(origin, action, start)
	if err != nil {
		d.reject(ctx, "validate", start, err)
		return fmt.Errorf("dispatcher %s: %w", d.name, err)
	}

	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	if d.metrics != nil {
		d.metrics.OnDispatch(origin, action.Kind())
	}
	capitan.Emit(ctx, DispatchStarted,
		KeyDispatcher.Field(d.name),
		KeyMessageID.Field(msg.ID().String()),
		KeyOrigin.Field(origin.String()),
		KeyKind.Field(string(action.Kind())),
	)

	dctx := context.WithValue(ctx, deliveryKey{}, &deliveryMark{dispatcher: d, parent: markFrom(ctx)})
	for _, reg := range sinks {
		sinkStart := d.clock.Now()
		err := reg.deliver(dctx, msg)
		d.checkSlow(ctx, reg.id, d.clock.Since(sinkStart))
		if err != nil {
			d.failed.Add(1)
			capitan.Emit(ctx, DispatchFailed,
				KeyDispatcher.Field(d.name),
				KeyMessageID.Field(msg.ID().String()),
				KeyKind.Field(string(action.Kind())),
				KeySink.Field(int(reg.id)),
				KeyError.Field(err.Error()),
			)
			if d.metrics != nil {
				d.metrics.OnDispatchFailure("sink", d.clock.Since(start))
			}
			return fmt.Errorf("dispatcher %s: sink %d: %w", d.name, reg.id, err)
		}
		d.delivered.Add(1)
	}

	capitan.Emit(ctx, DispatchCompleted,
		KeyDispatcher.Field(d.name),
		KeyMessageID.Field(msg.ID().String()),
		KeySinkCount.Field(len(sinks)),
		KeyDuration.Field(d.clock.Since(start)),
	)
	if d.metrics != nil {
		d.metrics.OnDispatchSuccess(len(sinks), d.clock.Since(start))
	}
	return nil
}

func (d *Dispatcher) reject(ctx context.Context, stage string, start time.Time, err error) {
	d.rejected.Add(1)
	capitan.Emit(ctx, DispatchRejected,
		KeyDispatcher.Field(d.name),
		KeyError.Field(err.Error()),
	)
	if d.metrics != nil {
		d.metrics.OnDispatchFailure(stage, d.clock.Since(start))
	}
}

func (d *Dispatcher) checkSlow(ctx context.Context, id SinkID, elapsed time.Duration) {
	if d.slowThreshold <= 0 || elapsed <= d.slowThreshold {
		return
	}
	capitan.Emit(ctx, SinkSlow,
		KeyDispatcher.Field(d.name),
		KeySink.Field(int(id)),
		KeyDuration.Field(elapsed),
	)
	if d.metrics != nil {
		d.metrics.OnSlowSink(id, elapsed)
	}
}

// inDelivery reports whether ctx belongs to a delivery of this dispatcher.
func (d *Dispatcher) inDelivery(ctx context.Context) bool {
	for m := markFrom(ctx); m != nil; m = m.parent {
		if m.dispatcher == d {
			return true
		}
	}
	return false
}

func markFrom(ctx context.Context) *deliveryMark {
	m, _ := ctx.Value(deliveryKey{}).(*deliveryMark)
	return m
}

// Stats returns dispatch statistics.
// Note: Stats are read without a mutex, so values may be slightly inconsistent
// if a dispatch is in progress.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
		Rejected:   d.rejected.Load(),
		Queued:     d.queued.Load(),
	}
}

// DispatcherStats contains statistics for a dispatcher.
type DispatcherStats struct {
	// Dispatched is the total number of dispatch calls.
	Dispatched uint64

	// Delivered is the number of successful sink deliveries.
	Delivered uint64

	// Failed is the number of deliveries aborted by a sink error.
	Failed uint64

	// Rejected is the number of dispatch calls refused before delivery.
	Rejected uint64

	// Queued is the number of dispatch calls that waited behind another
	// delivery.
	Queued uint64
}
