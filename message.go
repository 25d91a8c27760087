package flow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Message is the envelope a Dispatcher hands to every sink. It pairs an
// action with its origin and carries the match state used by the
// First/Next/OnAnyMatched chain.
//
// A single Message is built per dispatch and shared by all sinks of that
// delivery. Every sink must open its chain with First, which is the only
// call that resets the match state.
type Message struct {
	id     uuid.UUID
	origin Origin
	action Action
	at     time.Time

	matched bool
	err     error
}

// NewMessage wraps action in an envelope tagged with origin.
// It fails with ErrInvalidOrigin for an unknown origin and with
// ErrInvalidAction for a nil action.
func NewMessage(origin Origin, action Action) (*Message, error) {
	return newMessage(origin, action, clockz.RealClock.Now())
}

func newMessage(origin Origin, action Action, at time.Time) (*Message, error) {
	if !origin.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrigin, origin)
	}
	if isNil(action) {
		return nil, ErrInvalidAction
	}
	return &Message{
		id:     uuid.New(),
		origin: origin,
		action: action,
		at:     at,
	}, nil
}

// detach returns a copy of m with its own match state.
func (m *Message) detach() *Message {
	return &Message{id: m.id, origin: m.origin, action: m.action, at: m.at}
}

// ID returns the unique identifier of this delivery.
func (m *Message) ID() uuid.UUID { return m.id }

// Origin returns where the action came from.
func (m *Message) Origin() Origin { return m.origin }

// Action returns the wrapped action.
func (m *Message) Action() Action { return m.action }

// At returns the time the message was built.
func (m *Message) At() time.Time { return m.at }

// Matched reports whether any First/Next call of the current chain matched.
func (m *Message) Matched() bool { return m.matched }

// Err returns the first case handler error of the current chain.
func (m *Message) Err() error { return m.err }

// First resets the match state, then runs fn if the action is of kind.
// It must open every matching chain.
func (m *Message) First(kind Kind, fn func(Action) error) *Message {
	m.matched = false
	m.err = nil
	return m.test(kind, fn)
}

// Next runs fn if the action is of kind, keeping the match state of the
// calls before it. Once a case handler in the chain has failed, Next does
// nothing.
func (m *Message) Next(kind Kind, fn func(Action) error) *Message {
	if m.err != nil {
		return m
	}
	return m.test(kind, fn)
}

// OnAnyMatched calls fn when a case of the current chain matched. It
// returns the failing case handler's error instead, if there was one, and
// does not call fn in that case. The match state is left untouched.
func (m *Message) OnAnyMatched(fn func() error) error {
	if m.err != nil {
		return m.err
	}
	if !m.matched || fn == nil {
		return nil
	}
	return fn()
}

func (m *Message) test(kind Kind, fn func(Action) error) *Message {
	if m.action.Kind() != kind {
		return m
	}
	m.matched = true
	if fn == nil {
		return m
	}
	if err := fn(m.action); err != nil {
		m.err = fmt.Errorf("handle %s: %w", kind, err)
	}
	return m
}
