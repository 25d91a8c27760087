// Package postgres carries encoded flow actions over PostgreSQL
// LISTEN/NOTIFY.
//
// By default the notification payload is the encoded action itself, which
// limits actions to what fits in a NOTIFY payload (8000 bytes). With
// WithTable the payload is instead the id of a row holding the action,
// written by a Publisher and announced by a trigger:
//
//	CREATE TABLE flow_actions (
//	    id   BIGSERIAL PRIMARY KEY,
//	    body BYTEA NOT NULL
//	);
//
//	CREATE OR REPLACE FUNCTION notify_flow_action() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('flow_actions', NEW.id::text);
//	    RETURN NEW;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER flow_action_trigger
//	    AFTER INSERT ON flow_actions
//	    FOR EACH ROW EXECUTE FUNCTION notify_flow_action();
package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoobzio/flow"
)

// Watcher listens on a notification channel and emits one item per
// notification.
type Watcher struct {
	pool    *pgxpool.Pool
	channel string
	table   string
}

// Option configures a Watcher or Publisher.
type Option func(*settings)

type settings struct {
	table string
}

// WithTable switches to row mode: notifications carry row ids and the
// action body is read from table.
func WithTable(table string) Option {
	return func(s *settings) {
		s.table = table
	}
}

func apply(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// New creates a Watcher for the given notification channel.
func New(pool *pgxpool.Pool, channel string, opts ...Option) *Watcher {
	s := apply(opts)
	return &Watcher{
		pool:    pool,
		channel: channel,
		table:   s.table,
	}
}

// Watch holds a pooled connection listening on the channel until ctx ends.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{w.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", w.channel, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		// The connection still listens; drop it rather than return it to the pool.
		defer func() {
			_ = conn.Conn().Close(context.Background()) //nolint:errcheck // Connection is discarded
			conn.Release()
		}()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			item, err := w.item(ctx, notification.Payload)
			if err != nil || len(item) == 0 {
				continue
			}

			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// item resolves a notification payload to the encoded action.
func (w *Watcher) item(ctx context.Context, payload string) ([]byte, error) {
	if w.table == "" {
		return []byte(payload), nil
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid row id %q: %w", payload, err)
	}
	var body []byte
	query := fmt.Sprintf("SELECT body FROM %s WHERE id = $1", pgx.Identifier{w.table}.Sanitize())
	if err := w.pool.QueryRow(ctx, query, id).Scan(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// Publisher encodes actions and sends them to a Watcher on the same
// channel, either as a NOTIFY payload or as a row in the action table.
type Publisher struct {
	pool    *pgxpool.Pool
	channel string
	table   string
	codec   flow.Codec
}

// NewPublisher creates a Publisher for the given channel using JSON.
// Pass the same options as the Watcher.
func NewPublisher(pool *pgxpool.Pool, channel string, opts ...Option) *Publisher {
	s := apply(opts)
	return &Publisher{
		pool:    pool,
		channel: channel,
		table:   s.table,
		codec:   flow.JSONCodec{},
	}
}

// Codec sets the codec actions are encoded with.
func (p *Publisher) Codec(codec flow.Codec) *Publisher {
	p.codec = codec
	return p
}

// Publish sends action. In row mode it inserts the action and the table
// trigger notifies listeners when the transaction commits.
func (p *Publisher) Publish(ctx context.Context, action flow.Action) error {
	raw, err := flow.Encode(p.codec, action)
	if err != nil {
		return err
	}
	if p.table != "" {
		query := fmt.Sprintf("INSERT INTO %s (body) VALUES ($1)", pgx.Identifier{p.table}.Sanitize())
		if _, err := p.pool.Exec(ctx, query, raw); err != nil {
			return fmt.Errorf("failed to insert action: %w", err)
		}
		return nil
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(raw)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", p.channel, err)
	}
	return nil
}
