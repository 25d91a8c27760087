package flow

import (
	"context"
	"fmt"
	"sync"
)

// ChannelWatcher is an in-process action source. Producers push actions
// (or pre-encoded items) into it and a Relay picks them up on the other
// side, so code running in the same binary can act as the server.
type ChannelWatcher struct {
	items chan []byte
	done  chan struct{}
	once  sync.Once
	codec Codec
	sync  bool
}

// NewChannelWatcher creates a ChannelWatcher holding up to buffer pending
// items. Watch forwards them through an internal goroutine.
func NewChannelWatcher(buffer int) *ChannelWatcher {
	return &ChannelWatcher{
		items: make(chan []byte, buffer),
		done:  make(chan struct{}),
		codec: JSONCodec{},
	}
}

// NewSyncChannelWatcher creates a ChannelWatcher whose Watch returns the
// buffer directly without an intermediate goroutine.
// Use with Relay.SyncMode() for deterministic testing.
func NewSyncChannelWatcher(buffer int) *ChannelWatcher {
	w := NewChannelWatcher(buffer)
	w.sync = true
	return w
}

// Codec sets the codec Push encodes actions with. It must match the codec
// of the Relay reading from this watcher. Default: JSONCodec.
func (w *ChannelWatcher) Codec(codec Codec) *ChannelWatcher {
	w.codec = codec
	return w
}

// Push encodes action and queues it. It blocks while the buffer is full
// until ctx ends or the watcher is closed.
func (w *ChannelWatcher) Push(ctx context.Context, action Action) error {
	raw, err := Encode(w.codec, action)
	if err != nil {
		return err
	}
	return w.PushRaw(ctx, raw)
}

// PushRaw queues an already encoded item.
func (w *ChannelWatcher) PushRaw(ctx context.Context, raw []byte) error {
	select {
	case <-w.done:
		return ErrWatcherClosed
	default:
	}
	select {
	case w.items <- raw:
		return nil
	case <-w.done:
		return ErrWatcherClosed
	case <-ctx.Done():
		return fmt.Errorf("push: %w", ctx.Err())
	}
}

// Close stops the watcher. Later pushes return ErrWatcherClosed and the
// channel returned by Watch is closed once its forwarding goroutine sees
// the close. Close is safe to call more than once.
func (w *ChannelWatcher) Close() {
	w.once.Do(func() { close(w.done) })
}

// Watch returns a channel that emits pushed items in order.
func (w *ChannelWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	if w.sync {
		return w.items, nil
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case v := <-w.items:
				select {
				case out <- v:
				case <-ctx.Done():
					return
				case <-w.done:
					return
				}
			}
		}
	}()
	return out, nil
}
