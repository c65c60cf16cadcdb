package httpserver

// State is a step in the server lifecycle.
//
//	Starting -> Listening -> Draining -> Terminated
//	Starting -> Terminated (bind failure)
//
// Transitions only move forward.
type State int32

const (
	// StateStarting is the state of a server that has not bound its listener yet.
	StateStarting State = iota

	// StateListening means the listener is bound and accepting connections.
	StateListening

	// StateDraining means the listener is closed and in-flight requests are
	// being allowed to finish.
	StateDraining

	// StateTerminated is final. The listener is closed and no connection remains.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
