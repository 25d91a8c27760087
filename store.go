package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// Receiver is notified after a store committed a change. Receivers read
// the new state through Store.State.
type Receiver func(ctx context.Context) error

// Subscription identifies a receiver registered on a store.
type Subscription struct {
	id uint64
}

type subscriber struct {
	id       uint64
	receiver Receiver
}

// Store holds application state of type S and changes it only in
// response to dispatched messages.
//
// A store registers exactly one sink with its dispatcher when it is
// built. For each message the handler works on a copy of the state;
// the copy is committed when the handler succeeds and receivers are then
// notified if the handler marked the update as changed. A failing handler
// leaves the committed state untouched and moves the store to
// StatusDegraded.
//
// S is copied by assignment. Handlers that keep maps or slices in S must
// copy them before mutating if they rely on rollback.
type Store[S any] struct {
	name       string
	dispatcher *Dispatcher
	handler    HandlerFunc[S]
	sinkID     SinkID

	mu    sync.RWMutex
	state S

	subMu       sync.RWMutex
	subscribers []subscriber
	nextSub     uint64

	status       atomic.Int32
	closed       atomic.Bool
	lastError    atomic.Pointer[error]
	errorHistory *errorHistory
}

// NewStore creates a store holding initial and registers it with d.
//
// A nil handler yields a store that fails every delivery with
// ErrNotImplemented. It returns ErrNilDispatcher when d is nil. Options
// wrap the store's sink the same way they wrap any other sink.
//
// Example:
//
//	store, err := flow.NewStore(d, "counter", 0,
//	    func(_ context.Context, msg *flow.Message, u *flow.Update[int]) error {
//	        return msg.
//	            First(KindIncrement, func(flow.Action) error { u.State++; return nil }).
//	            OnAnyMatched(u.Changed)
//	    },
//	)
func NewStore[S any](d *Dispatcher, name string, initial S, handler HandlerFunc[S], opts ...SinkOption) (*Store[S], error) {
	if d == nil {
		return nil, fmt.Errorf("store %s: %w", name, ErrNilDispatcher)
	}
	if handler == nil {
		handler = notImplemented[S]
	}
	s := &Store[S]{
		name:       name,
		dispatcher: d,
		handler:    handler,
		state:      initial,
	}
	s.status.Store(int32(StatusReady))
	s.sinkID = d.Register(s.handleMessage, opts...)
	return s, nil
}

// ErrorHistorySize sets the number of recent handler errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Call it before the first dispatch.
func (s *Store[S]) ErrorHistorySize(n int) *Store[S] {
	s.errorHistory = newErrorHistory(n)
	return s
}

// Name returns the store name.
func (s *Store[S]) Name() string { return s.name }

// Dispatcher returns the dispatcher the store is registered with.
func (s *Store[S]) Dispatcher() *Dispatcher { return s.dispatcher }

// State returns the committed state.
func (s *Store[S]) State() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the current status of the store.
func (s *Store[S]) Status() Status {
	return Status(s.status.Load())
}

// LastError returns the last handler error, or nil if the last delivery succeeded.
func (s *Store[S]) LastError() error {
	ptr := s.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns recent handler errors, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (s *Store[S]) ErrorHistory() []error {
	return s.errorHistory.list()
}

// Subscribe adds a receiver. Receivers are notified in subscription order.
func (s *Store[S]) Subscribe(r Receiver) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	s.subscribers = append(s.subscribers, subscriber{id: s.nextSub, receiver: r})
	return Subscription{id: s.nextSub}
}

// Unsubscribe removes a receiver. It returns ErrNotFound if sub is not
// currently subscribed.
func (s *Store[S]) Unsubscribe(sub Subscription) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, existing := range s.subscribers {
		if existing.id != sub.id {
			continue
		}
		subscribers := make([]subscriber, 0, len(s.subscribers)-1)
		subscribers = append(subscribers, s.subscribers[:i]...)
		subscribers = append(subscribers, s.subscribers[i+1:]...)
		s.subscribers = subscribers
		return nil
	}
	return fmt.Errorf("store %s: subscription %d: %w", s.name, sub.id, ErrNotFound)
}

// NotifyChanged calls every receiver in subscription order. The first
// receiver error stops the notification and is returned.
func (s *Store[S]) NotifyChanged(ctx context.Context) error {
	s.subMu.RLock()
	subscribers := s.subscribers
	s.subMu.RUnlock()

	for _, sub := range subscribers {
		if err := sub.receiver(ctx); err != nil {
			return fmt.Errorf("store %s: receiver %d: %w", s.name, sub.id, err)
		}
	}
	return nil
}

// Snapshot encodes the committed state with codec.
func (s *Store[S]) Snapshot(codec Codec) ([]byte, error) {
	data, err := codec.Marshal(s.State())
	if err != nil {
		return nil, fmt.Errorf("store %s: snapshot: %w", s.name, err)
	}
	return data, nil
}

// Close detaches the store from its dispatcher. The committed state stays
// readable. A second Close returns ErrStoreClosed.
func (s *Store[S]) Close() error {
	if s.closed.Swap(true) {
		return fmt.Errorf("store %s: %w", s.name, ErrStoreClosed)
	}
	if err := s.dispatcher.Unregister(s.sinkID); err != nil {
		return fmt.Errorf("store %s: close: %w", s.name, err)
	}
	s.transitionStatus(context.Background(), s.Status(), StatusClosed)
	return nil
}

// handleMessage is the sink the store registers with its dispatcher.
func (s *Store[S]) handleMessage(ctx context.Context, msg *Message) error {
	if s.closed.Load() {
		return nil
	}

	oldStatus := s.Status()
	prev := s.State()
	u := &Update[S]{Previous: prev, State: prev}

	if err := s.handler(ctx, msg, u); err != nil {
		s.setError(err)
		s.transitionStatus(ctx, oldStatus, StatusDegraded)
		capitan.Emit(ctx, StoreHandlerFailed,
			KeyStore.Field(s.name),
			KeyMessageID.Field(msg.ID().String()),
			KeyKind.Field(string(msg.Action().Kind())),
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("store %s: %w", s.name, err)
	}

	s.mu.Lock()
	s.state = u.State
	s.mu.Unlock()

	s.lastError.Store(nil)
	s.errorHistory.reset()
	s.transitionStatus(ctx, oldStatus, StatusReady)

	if !u.IsChanged() {
		return nil
	}
	if err := s.NotifyChanged(ctx); err != nil {
		return err
	}
	capitan.Emit(ctx, StoreChanged,
		KeyStore.Field(s.name),
		KeyMessageID.Field(msg.ID().String()),
		KeyKind.Field(string(msg.Action().Kind())),
	)
	return nil
}

// transitionStatus updates the status and emits a signal if it changed.
func (s *Store[S]) transitionStatus(ctx context.Context, oldStatus, newStatus Status) {
	if oldStatus == newStatus || oldStatus == StatusClosed {
		return
	}
	s.status.Store(int32(newStatus))
	capitan.Emit(ctx, StoreStatusChanged,
		KeyStore.Field(s.name),
		KeyOldStatus.Field(oldStatus.String()),
		KeyNewStatus.Field(newStatus.String()),
	)
}

// setError stores an error atomically and adds it to the error history.
func (s *Store[S]) setError(err error) {
	e := err
	s.lastError.Store(&e)
	s.errorHistory.add(err)
}
