package chat

// State is the lifecycle phase of a Client's connection.
type State int

const (
	// StateIdle means no connection has been attempted yet.
	StateIdle State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateOpen means the connection is established and usable.
	StateOpen

	// StateClosed means the connection was closed, locally or by the server.
	StateClosed

	// StateFailed means the last connection attempt did not complete.
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
