// ABOUTME: Turn lifecycle states from request receipt to stream close
// ABOUTME: Any step may move the turn to StateError instead of the next state

package conversation

// State is a step in a turn's lifecycle.
type State int

const (
	StateReceived State = iota
	StateThreadLoaded
	StateAgentRunning
	StateResultExtracted
	StatePersisted
	StateStreamClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateThreadLoaded:
		return "THREAD_LOADED"
	case StateAgentRunning:
		return "AGENT_RUNNING"
	case StateResultExtracted:
		return "RESULT_EXTRACTED"
	case StatePersisted:
		return "PERSISTED"
	case StateStreamClosed:
		return "STREAM_CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// next reports whether to is a legal transition from s.
func (s State) next(to State) bool {
	if to == StateError {
		return s != StateStreamClosed && s != StateError
	}
	return to == s+1 && s < StateStreamClosed
}
