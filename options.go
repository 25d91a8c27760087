package flow

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Pipeline identities for sink wrappers.
var (
	sinkID       = pipz.NewIdentity("flow:sink", "Registered sink")
	retryID      = pipz.NewIdentity("flow:sink:retry", "Retries a failing sink")
	backoffID    = pipz.NewIdentity("flow:sink:backoff", "Retries a failing sink with exponential backoff")
	handleID     = pipz.NewIdentity("flow:sink:error-handler", "Observes sink errors")
	middlewareID = pipz.NewIdentity("flow:sink:middleware", "Runs middleware before the sink")
	timeoutID    = pipz.NewIdentity("flow:sink:timeout", "Bounds sink duration")
	detachID     = pipz.NewIdentity("flow:sink:detach", "Runs the sink on its own copy of the message")
	fallbackID   = pipz.NewIdentity("flow:sink:fallback", "Tries fallbacks when the sink fails")
	breakerID    = pipz.NewIdentity("flow:sink:circuit-breaker", "Stops calling a failing sink")
	filterID     = pipz.NewIdentity("flow:sink:filter", "Delivers only matching messages")
	rateLimitID  = pipz.NewIdentity("flow:sink:rate-limit", "Limits delivery rate")
)

// SinkOption configures the processing pipeline around a registered sink.
// Options wrap the sink in registration order, so the last option is the
// outermost layer.
//
// Every layer runs synchronously inside the dispatch call. Without options
// a sink error aborts delivery straight away.
type SinkOption func(pipz.Chainable[*Message]) pipz.Chainable[*Message]

// buildPipeline wraps a terminal sink with pipeline options.
func buildPipeline(terminal pipz.Chainable[*Message], opts []SinkOption) pipz.Chainable[*Message] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// sinkProcessor adapts a Sink to a pipz processor.
func sinkProcessor(sink Sink) pipz.Chainable[*Message] {
	return pipz.Effect(sinkID, func(ctx context.Context, msg *Message) error {
		return sink(ctx, msg)
	})
}

// WithRetry retries a failing sink immediately up to maxAttempts times.
// Stores restart their matching chain with First on every attempt, so a
// retried store handler sees a clean match state.
func WithRetry(maxAttempts int) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		return pipz.NewRetry(retryID, p, maxAttempts)
	}
}

// WithBackoff retries a failing sink with increasing delays: baseDelay,
// 2*baseDelay, 4*baseDelay, etc. The dispatch call blocks while it waits.
func WithBackoff(maxAttempts int, baseDelay time.Duration) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		return pipz.NewBackoff(backoffID, p, maxAttempts, baseDelay)
	}
}

// WithTimeout fails the sink when it runs longer than d. The sink's
// context is canceled at the deadline; a sink that ignores its context
// keeps running after the dispatch has returned.
//
// The wrapped sink works on its own copy of the message, so a sink left
// running cannot disturb the match state other sinks see. It can still
// act on the action late: a store wrapped this way may commit and notify
// after the dispatch has already failed. Prefer context-aware handlers
// over WithTimeout for stores.
func WithTimeout(d time.Duration) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		detached := pipz.Apply(detachID, func(ctx context.Context, msg *Message) (*Message, error) {
			if _, err := p.Process(ctx, msg.detach()); err != nil {
				return msg, err
			}
			return msg, nil
		})
		return pipz.NewTimeout(timeoutID, detached, d)
	}
}

// WithFallback tries each fallback in order when the sink fails. The
// delivery continues if any of them succeeds.
func WithFallback(fallbacks ...pipz.Chainable[*Message]) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		all := make([]pipz.Chainable[*Message], 0, len(fallbacks)+1)
		all = append(all, p)
		all = append(all, fallbacks...)
		return pipz.NewFallback(fallbackID, all...)
	}
}

// WithCircuitBreaker stops calling the sink after failures consecutive
// errors and rejects deliveries until recovery has passed. A rejected
// delivery is still a sink error and aborts the dispatch.
func WithCircuitBreaker(failures int, recovery time.Duration) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		return pipz.NewCircuitBreaker(breakerID, p, failures, recovery)
	}
}

// WithFilter skips the sink for messages the condition rejects. Skipped
// messages count as delivered.
//
//	d.Register(audit, flow.WithFilter(func(_ context.Context, msg *flow.Message) bool {
//	    return msg.Origin() == flow.OriginServer
//	}))
func WithFilter(condition func(context.Context, *Message) bool) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		return pipz.NewFilter(filterID, condition, p)
	}
}

// WithErrorHandler passes sink errors to handler for logging or alerting.
// The error still propagates and still aborts the delivery.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Message]]) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		return pipz.NewHandle(handleID, p, handler)
	}
}

// WithMiddleware runs processors in order before the sink.
//
//	d.Register(store.handle, flow.WithMiddleware(
//	    flow.UseEffect(auditID, audit),
//	))
func WithMiddleware(processors ...pipz.Chainable[*Message]) SinkOption {
	return func(p pipz.Chainable[*Message]) pipz.Chainable[*Message] {
		all := make([]pipz.Chainable[*Message], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence(middlewareID, all...)
	}
}

// UseEffect creates a middleware processor that observes a message.
// Returning an error stops delivery before the sink runs.
func UseEffect(identity pipz.Identity, fn func(context.Context, *Message) error) pipz.Chainable[*Message] {
	return pipz.Effect(identity, fn)
}

// UseApply creates a middleware processor that may replace the message
// handed to the sink. Returning an error stops delivery before the sink runs.
func UseApply(identity pipz.Identity, fn func(context.Context, *Message) (*Message, error)) pipz.Chainable[*Message] {
	return pipz.Apply(identity, fn)
}

// UseRateLimit creates a middleware processor that waits for a token
// before letting the message through. rate is tokens per second.
// The dispatch call blocks while it waits.
func UseRateLimit(rate float64, burst int) pipz.Chainable[*Message] {
	return pipz.NewRateLimiter[*Message](rateLimitID, rate, burst)
}
