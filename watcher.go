package flow

import "context"

// Watcher observes a source of server-side actions and emits one raw
// encoded action per item on a channel.
type Watcher interface {
	// Watch begins observing the source and returns a channel that emits
	// raw items as they arrive. The channel is closed when the context is
	// canceled or an unrecoverable error occurs.
	Watch(ctx context.Context) (<-chan []byte, error)
}
