package flow

import "context"

// Update carries a store's state through one message delivery.
// Handlers read Previous, mutate State, and call Changed when receivers
// should be notified.
type Update[S any] struct {
	// Previous is the committed state before this delivery.
	Previous S

	// State is the working copy. It is committed when the handler returns
	// nil and discarded otherwise.
	State S

	changed bool
}

// Changed marks the update as a change worth notifying. Its signature fits
// Message.OnAnyMatched:
//
//	return msg.
//	    First(KindReset, flow.Ignore).
//	    Next(KindAdd, add).
//	    OnAnyMatched(u.Changed)
func (u *Update[S]) Changed() error {
	u.changed = true
	return nil
}

// IsChanged reports whether Changed was called.
func (u *Update[S]) IsChanged() bool {
	return u.changed
}

// HandlerFunc processes one message for a store. It runs inside the
// dispatcher's delivery, before any receiver is notified.
type HandlerFunc[S any] func(ctx context.Context, msg *Message, u *Update[S]) error

// notImplemented is the handler of stores built without one.
func notImplemented[S any](_ context.Context, _ *Message, _ *Update[S]) error {
	return ErrNotImplemented
}
