package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// Relay feeds server-originated actions into a Dispatcher. It watches a
// source, decodes each raw item into an action through a Registry, and
// dispatches it with DispatchFromServer.
//
// Every item is one action; nothing is coalesced. Items that fail to
// decode or dispatch are recorded (see LastError, ErrorHistory) and the
// relay moves on to the next one.
type Relay struct {
	watcher    Watcher
	dispatcher *Dispatcher
	registry   *Registry
	codec      Codec
	syncMode   bool
	onStop     func()

	relayed      atomic.Uint64
	lastError    atomic.Pointer[error]
	errorHistory *errorHistory

	mu      sync.Mutex
	started bool

	// For sync mode: channel to read items from
	items <-chan []byte
}

// NewRelay creates a Relay that dispatches actions decoded from watcher
// onto d. Instance configuration uses chainable methods before Start().
//
// Example:
//
//	relay := flow.NewRelay(flow.NewSpoolWatcher("/var/spool/app"), d, registry).
//	    Codec(flow.YAMLCodec{}).
//	    ErrorHistorySize(10)
//
//	if err := relay.Start(ctx); err != nil {
//	    log.Printf("relay failed: %v", err)
//	}
func NewRelay(watcher Watcher, d *Dispatcher, registry *Registry) *Relay {
	return &Relay{
		watcher:    watcher,
		dispatcher: d,
		registry:   registry,
		codec:      JSONCodec{},
	}
}

// SyncMode enables synchronous processing for testing.
// In sync mode, Start does not spawn a goroutine; use Process() to relay
// items one at a time. Must be called before Start().
func (r *Relay) SyncMode() *Relay {
	r.syncMode = true
	return r
}

// Codec sets the codec for decoding items.
// Default: JSONCodec. Must be called before Start().
func (r *Relay) Codec(codec Codec) *Relay {
	r.codec = codec
	return r
}

// ErrorHistorySize sets the number of recent errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (r *Relay) ErrorHistorySize(n int) *Relay {
	r.errorHistory = newErrorHistory(n)
	return r
}

// OnStop sets a callback invoked when the relay stops watching.
// Must be called before Start().
func (r *Relay) OnStop(fn func()) *Relay {
	r.onStop = fn
	return r
}

// Relayed returns the number of actions dispatched successfully.
func (r *Relay) Relayed() uint64 {
	return r.relayed.Load()
}

// LastError returns the last error encountered, or nil if the last item
// was relayed.
func (r *Relay) LastError() error {
	ptr := r.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (r *Relay) ErrorHistory() []error {
	return r.errorHistory.list()
}

// Start begins watching the source. Outside sync mode items are relayed
// on a background goroutine until ctx is canceled or the source closes.
//
// Start can only be called once. Subsequent calls return an error.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("relay already started")
	}
	r.started = true
	r.mu.Unlock()

	items, err := r.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	capitan.Emit(ctx, RelayStarted,
		KeyDispatcher.Field(r.dispatcher.Name()),
	)

	if r.syncMode {
		r.items = items
		return nil
	}

	go r.watch(ctx, items)
	return nil
}

// Process relays the next available item.
// This is only available in sync mode and is used for deterministic testing.
// Returns false if no item is available or the source is closed.
func (r *Relay) Process(ctx context.Context) bool {
	if !r.syncMode {
		return false
	}

	select {
	case raw, ok := <-r.items:
		if !ok {
			return false
		}
		_ = r.relay(ctx, raw) //nolint:errcheck // Errors stored via setError
		return true
	default:
		return false
	}
}

// relay decodes and dispatches a single item.
func (r *Relay) relay(ctx context.Context, raw []byte) error {
	action, err := r.registry.Decode(r.codec, raw)
	if err != nil {
		r.setError(err)
		capitan.Emit(ctx, RelayDecodeFailed,
			KeyDispatcher.Field(r.dispatcher.Name()),
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("decode failed: %w", err)
	}

	if err := r.dispatcher.DispatchFromServer(ctx, action); err != nil {
		r.setError(err)
		capitan.Emit(ctx, RelayDispatchFailed,
			KeyDispatcher.Field(r.dispatcher.Name()),
			KeyKind.Field(string(action.Kind())),
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("dispatch failed: %w", err)
	}

	r.lastError.Store(nil)
	r.relayed.Add(1)
	return nil
}

// setError stores an error atomically and adds it to the error history.
func (r *Relay) setError(err error) {
	e := err
	r.lastError.Store(&e)
	r.errorHistory.add(err)
}

// watch relays items until the context ends or the source closes.
func (r *Relay) watch(ctx context.Context, items <-chan []byte) {
	defer func() {
		capitan.Emit(ctx, RelayStopped,
			KeyDispatcher.Field(r.dispatcher.Name()),
		)
		if r.onStop != nil {
			r.onStop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-items:
			if !ok {
				return
			}
			_ = r.relay(ctx, raw) //nolint:errcheck // Errors stored via setError
		}
	}
}
