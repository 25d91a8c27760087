// Package nats carries encoded flow actions over core NATS subjects.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/zoobzio/flow"
)

// Watcher subscribes to a subject and emits the data of every message as
// one item.
type Watcher struct {
	conn    *nats.Conn
	subject string
	queue   string
	buffer  int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithQueue joins a queue group so each action reaches only one of
// several relays subscribed to the subject.
func WithQueue(group string) Option {
	return func(w *Watcher) {
		w.queue = group
	}
}

// WithBuffer sets how many messages may be pending before NATS treats the
// subscriber as slow. Defaults to 64.
func WithBuffer(n int) Option {
	return func(w *Watcher) {
		w.buffer = n
	}
}

// New creates a Watcher for the given subject.
func New(conn *nats.Conn, subject string, opts ...Option) *Watcher {
	w := &Watcher{
		conn:    conn,
		subject: subject,
		buffer:  64,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch subscribes to the subject and returns a channel of message data.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	msgs := make(chan *nats.Msg, w.buffer)

	var (
		sub *nats.Subscription
		err error
	)
	if w.queue != "" {
		sub, err = w.conn.ChanQueueSubscribe(w.subject, w.queue, msgs)
	} else {
		sub, err = w.conn.ChanSubscribe(w.subject, msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", w.subject, err)
	}
	// Make sure the server registered the interest before returning.
	if err := w.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer sub.Unsubscribe() //nolint:errcheck // Best effort on shutdown

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Publisher encodes actions and publishes them on a subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	codec   flow.Codec
}

// NewPublisher creates a Publisher for the given subject using JSON.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject, codec: flow.JSONCodec{}}
}

// Codec sets the codec actions are encoded with.
func (p *Publisher) Codec(codec flow.Codec) *Publisher {
	p.codec = codec
	return p
}

// Publish sends action. Delivery is at most once.
func (p *Publisher) Publish(ctx context.Context, action flow.Action) error {
	raw, err := flow.Encode(p.codec, action)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, raw); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", p.subject, err)
	}
	return nil
}
