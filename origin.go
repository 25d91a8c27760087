package flow

// Origin identifies where a dispatched action came from.
type Origin uint8

const (
	// OriginServer marks actions that arrived from a remote or system source.
	OriginServer Origin = iota

	// OriginView marks actions raised by user interaction.
	OriginView
)

// Valid reports whether o is one of the two known origins.
func (o Origin) Valid() bool {
	return o == OriginServer || o == OriginView
}

// String returns the string representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginServer:
		return "server"
	case OriginView:
		return "view"
	default:
		return "unknown"
	}
}
