// Package testing provides test utilities for code built on flow
// dispatchers and stores.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/flow"
)

// Kinds used by TestAction.
const (
	KindIncrement flow.Kind = "test.increment"
	KindReset     flow.Kind = "test.reset"
)

// TestAction is a general purpose action for tests. Its kind is
// KindIncrement unless Reset is set.
type TestAction struct {
	By    int  `json:"by" yaml:"by"`
	Reset bool `json:"reset" yaml:"reset"`
}

// Kind implements flow.Action.
func (a TestAction) Kind() flow.Kind {
	if a.Reset {
		return KindReset
	}
	return KindIncrement
}

// Registry returns a registry decoding TestAction under both kinds.
func Registry() *flow.Registry {
	r := flow.NewRegistry()
	flow.Register[TestAction](r, KindIncrement)
	flow.Register[TestAction](r, KindReset)
	return r
}

// CounterHandler is a store handler for TestAction: increments add By,
// resets go back to zero.
func CounterHandler(_ context.Context, msg *flow.Message, u *flow.Update[int]) error {
	return msg.
		First(KindIncrement, flow.Handle(func(a TestAction) error {
			u.State += a.By
			return nil
		})).
		Next(KindReset, func(flow.Action) error {
			u.State = 0
			return nil
		}).
		OnAnyMatched(u.Changed)
}

// Recorder is a sink that keeps every message delivered to it.
type Recorder struct {
	mu       sync.Mutex
	messages []*flow.Message
}

// NewRecorder creates a Recorder and registers it with d.
func NewRecorder(d *flow.Dispatcher) *Recorder {
	r := &Recorder{}
	d.Register(r.Sink)
	return r
}

// Sink records msg. It never fails.
func (r *Recorder) Sink(_ context.Context, msg *flow.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns the recorded messages in delivery order.
func (r *Recorder) Messages() []*flow.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*flow.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Kinds returns the action kind of every recorded message.
func (r *Recorder) Kinds() []flow.Kind {
	msgs := r.Messages()
	kinds := make([]flow.Kind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Action().Kind()
	}
	return kinds
}

// Origins returns the origin of every recorded message.
func (r *Recorder) Origins() []flow.Origin {
	msgs := r.Messages()
	origins := make([]flow.Origin, len(msgs))
	for i, m := range msgs {
		origins[i] = m.Origin()
	}
	return origins
}

// Count returns the number of recorded messages.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Notifications counts store notifications and the state seen by each.
type Notifications[S any] struct {
	mu     sync.Mutex
	states []S
}

// Watch subscribes a counting receiver to store.
func Watch[S any](store *flow.Store[S]) *Notifications[S] {
	n := &Notifications[S]{}
	store.Subscribe(func(context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.states = append(n.states, store.State())
		return nil
	})
	return n
}

// Count returns how many times the store notified.
func (n *Notifications[S]) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.states)
}

// States returns the committed state observed at each notification.
func (n *Notifications[S]) States() []S {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]S, len(n.states))
	copy(out, n.states)
	return out
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// WaitForStatus waits until the store reaches the expected status or timeout occurs.
func WaitForStatus[S any](t *testing.T, s *flow.Store[S], expected flow.Status, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return s.Status() == expected
	})
}

// RequireStatus fails the test immediately if the store is not in the expected status.
func RequireStatus[S any](t *testing.T, s *flow.Store[S], expected flow.Status) {
	t.Helper()
	if got := s.Status(); got != expected {
		t.Fatalf("expected status %s, got %s", expected, got)
	}
}

// RequireState fails the test if the store's committed state differs from expected.
func RequireState[S comparable](t *testing.T, s *flow.Store[S], expected S) {
	t.Helper()
	if got := s.State(); got != expected {
		t.Fatalf("expected state %v, got %v", expected, got)
	}
}

// DispatchAll dispatches actions from the view in order and fails the
// test on the first error.
func DispatchAll(t *testing.T, d *flow.Dispatcher, actions ...flow.Action) {
	t.Helper()
	ctx := context.Background()
	for i, a := range actions {
		if err := d.DispatchFromView(ctx, a); err != nil {
			t.Fatalf("dispatch %d (%s): %v", i, a.Kind(), err)
		}
	}
}

// NewTestRelay creates a sync-mode relay over a sync channel watcher,
// decoding TestAction. Push actions into the watcher and call Process.
func NewTestRelay(t *testing.T, d *flow.Dispatcher) (*flow.Relay, *flow.ChannelWatcher) {
	t.Helper()
	w := flow.NewSyncChannelWatcher(16)
	r := flow.NewRelay(w, d, Registry()).SyncMode()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("relay start: %v", err)
	}
	return r, w
}
