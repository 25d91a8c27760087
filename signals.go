package flow

import "github.com/zoobzio/capitan"

// Dispatch signals.
var (
	// DispatchStarted is emitted when a dispatcher begins delivering a message.
	DispatchStarted = capitan.NewSignal(
		"flow.dispatch.started",
		"Message delivery started",
	)

	// DispatchCompleted is emitted when every sink accepted a message.
	DispatchCompleted = capitan.NewSignal(
		"flow.dispatch.completed",
		"Message delivered to all sinks",
	)

	// DispatchFailed is emitted when a sink returns an error and delivery stops.
	DispatchFailed = capitan.NewSignal(
		"flow.dispatch.failed",
		"Message delivery aborted by a sink",
	)

	// DispatchRejected is emitted when a dispatch is refused before delivery,
	// for example a nil action or a reentrant call.
	DispatchRejected = capitan.NewSignal(
		"flow.dispatch.rejected",
		"Dispatch rejected",
	)

	// DispatchQueued is emitted when a dispatch arrives during another
	// delivery and waits for it to finish.
	DispatchQueued = capitan.NewSignal(
		"flow.dispatch.queued",
		"Dispatch queued behind the current delivery",
	)
)

// Sink registration signals.
var (
	// SinkRegistered is emitted when a sink is added to a dispatcher.
	SinkRegistered = capitan.NewSignal(
		"flow.sink.registered",
		"Sink registered",
	)

	// SinkUnregistered is emitted when a sink is removed from a dispatcher.
	SinkUnregistered = capitan.NewSignal(
		"flow.sink.unregistered",
		"Sink unregistered",
	)

	// SinkSlow is emitted when a sink takes longer than the slow threshold.
	SinkSlow = capitan.NewSignal(
		"flow.sink.slow",
		"Sink exceeded slow threshold",
	)
)

// Store signals.
var (
	// StoreChanged is emitted after a store committed a change and notified
	// its receivers.
	StoreChanged = capitan.NewSignal(
		"flow.store.changed",
		"Store state changed",
	)

	// StoreHandlerFailed is emitted when a store's message handler fails.
	StoreHandlerFailed = capitan.NewSignal(
		"flow.store.handler.failed",
		"Store handler failed",
	)

	// StoreStatusChanged is emitted when a store transitions between statuses.
	StoreStatusChanged = capitan.NewSignal(
		"flow.store.status.changed",
		"Store status transition",
	)
)

// Relay signals.
var (
	// RelayStarted is emitted when a Relay begins watching its source.
	RelayStarted = capitan.NewSignal(
		"flow.relay.started",
		"Relay watching started",
	)

	// RelayStopped is emitted when a Relay stops watching.
	RelayStopped = capitan.NewSignal(
		"flow.relay.stopped",
		"Relay watching stopped",
	)

	// RelayDecodeFailed is emitted when a raw item cannot be decoded into an action.
	RelayDecodeFailed = capitan.NewSignal(
		"flow.relay.decode.failed",
		"Relay decode failed",
	)

	// RelayDispatchFailed is emitted when a decoded action fails to dispatch.
	RelayDispatchFailed = capitan.NewSignal(
		"flow.relay.dispatch.failed",
		"Relay dispatch failed",
	)
)
