package flow

// Status represents the health of a Store.
type Status int32

const (
	// StatusReady indicates the last delivery was applied, or none has
	// happened yet.
	StatusReady Status = iota

	// StatusDegraded indicates the last delivery failed in the handler. The
	// previously committed state remains active.
	StatusDegraded

	// StatusClosed indicates the store has been detached from its dispatcher
	// and will not receive further messages.
	StatusClosed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusDegraded:
		return "degraded"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}
