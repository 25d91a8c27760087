package flow

import "github.com/zoobzio/capitan"

// Field keys for flow events.
var (
	// KeyDispatcher is the name of the dispatcher.
	KeyDispatcher = capitan.NewStringKey("dispatcher")

	// KeyStore is the name of the store.
	KeyStore = capitan.NewStringKey("store")

	// KeyMessageID is the identifier of the delivered message.
	KeyMessageID = capitan.NewStringKey("message_id")

	// KeyOrigin is the origin of the delivered message.
	KeyOrigin = capitan.NewStringKey("origin")

	// KeyKind is the kind of the delivered action.
	KeyKind = capitan.NewStringKey("kind")

	// KeySink is the registration id of a sink.
	KeySink = capitan.NewIntKey("sink")

	// KeySinkCount is the number of sinks a message was delivered to.
	KeySinkCount = capitan.NewIntKey("sink_count")

	// KeyOldStatus is the store status before a transition.
	KeyOldStatus = capitan.NewStringKey("old_status")

	// KeyNewStatus is the store status after a transition.
	KeyNewStatus = capitan.NewStringKey("new_status")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDuration is how long a delivery or sink took.
	KeyDuration = capitan.NewDurationKey("duration")
)
