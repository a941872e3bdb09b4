package session

// State is the lifecycle position of one call session.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnected:
		return "CONNECTED"
	case StateStreaming:
		return "STREAMING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// validTransitions defines the allowed lifecycle moves. Stopped is terminal;
// a new session must be created for the next call.
var validTransitions = map[State][]State{
	StateIdle:      {StateConnected, StateStopped},
	StateConnected: {StateStreaming, StateStopped},
	StateStreaming: {StateStopped},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
