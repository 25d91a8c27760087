// Package redis carries encoded flow actions over Redis pub/sub.
//
// A Publisher on the server side sends each action as one message; a
// Watcher subscribed to the same channel feeds them to a flow.Relay.
// Pub/sub does not buffer: actions published while no Watcher is
// subscribed are lost.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zoobzio/flow"
)

// Watcher subscribes to a Redis channel and emits every message payload
// as one item.
type Watcher struct {
	client  redis.UniversalClient
	channel string
	buffer  int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithBuffer sets how many received messages go-redis may queue before
// the relay reads them. Defaults to 100.
func WithBuffer(n int) Option {
	return func(w *Watcher) {
		w.buffer = n
	}
}

// New creates a Watcher for the given channel.
func New(client redis.UniversalClient, channel string, opts ...Option) *Watcher {
	w := &Watcher{
		client:  client,
		channel: channel,
		buffer:  100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch subscribes to the channel and returns a channel of message
// payloads. It is closed when ctx ends.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	pubsub := w.client.Subscribe(ctx, w.channel)

	// Wait for the subscription to be confirmed so nothing published
	// after Watch returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", w.channel, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel(redis.WithChannelSize(w.buffer))
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Publisher encodes actions and publishes them to a Redis channel.
type Publisher struct {
	client  redis.UniversalClient
	channel string
	codec   flow.Codec
}

// NewPublisher creates a Publisher for the given channel using JSON.
func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	return &Publisher{client: client, channel: channel, codec: flow.JSONCodec{}}
}

// Codec sets the codec actions are encoded with. It must match the codec
// of the relay on the receiving side.
func (p *Publisher) Codec(codec flow.Codec) *Publisher {
	p.codec = codec
	return p
}

// Publish sends action and returns how many subscribers received it.
func (p *Publisher) Publish(ctx context.Context, action flow.Action) (int64, error) {
	raw, err := flow.Encode(p.codec, action)
	if err != nil {
		return 0, err
	}
	n, err := p.client.Publish(ctx, p.channel, raw).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	return n, nil
}
