package flow

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on dispatcher events. Callbacks
// run synchronously inside the dispatch call.
type MetricsProvider interface {
	// OnDispatch is called when a message is about to be delivered.
	OnDispatch(origin Origin, kind Kind)

	// OnDispatchSuccess is called when every sink accepted the message.
	OnDispatchSuccess(sinks int, duration time.Duration)

	// OnDispatchFailure is called when a dispatch fails. Stage is "validate",
	// "reentrant", or "sink".
	OnDispatchFailure(stage string, duration time.Duration)

	// OnSlowSink is called when a sink exceeds the slow threshold.
	OnSlowSink(sink SinkID, duration time.Duration)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnDispatch(_ Origin, _ Kind)                 {}
func (NoOpMetricsProvider) OnDispatchSuccess(_ int, _ time.Duration)    {}
func (NoOpMetricsProvider) OnDispatchFailure(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnSlowSink(_ SinkID, _ time.Duration)        {}
