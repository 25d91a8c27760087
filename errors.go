package flow

import "errors"

// Sentinel errors returned by the dispatcher, messages, and stores.
// Callers should match them with errors.Is; most are returned wrapped
// with additional context.
var (
	// ErrInvalidAction is returned when a nil action is dispatched or wrapped
	// in a message, or when an action fails its own validation.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidOrigin is returned when a message is built with an origin
	// other than OriginView or OriginServer.
	ErrInvalidOrigin = errors.New("invalid origin")

	// ErrNotImplemented is returned when a store without a handler receives a message.
	ErrNotImplemented = errors.New("message handler not implemented")

	// ErrNotFound is returned when unregistering a sink or subscription that
	// is not registered.
	ErrNotFound = errors.New("not found")

	// ErrReentrantDispatch is returned when a sink dispatches with the
	// context of the delivery it is handling.
	ErrReentrantDispatch = errors.New("reentrant dispatch")

	// ErrNilDispatcher is returned when a store is built without a dispatcher.
	ErrNilDispatcher = errors.New("nil dispatcher")

	// ErrUnknownKind is returned when decoding an action whose kind has not
	// been registered.
	ErrUnknownKind = errors.New("unknown action kind")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")

	// ErrWatcherClosed is returned when pushing into a closed ChannelWatcher.
	ErrWatcherClosed = errors.New("watcher closed")
)
