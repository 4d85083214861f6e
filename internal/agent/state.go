package agent

// State is one step of a capture cycle.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StatePreparing
	StateUploading
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StatePreparing:
		return "preparing"
	case StateUploading:
		return "uploading"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether the capture control is disabled in s.
func (s State) Busy() bool {
	return s == StateCapturing || s == StatePreparing || s == StateUploading
}

// transitions lists every legal move. Anything else is rejected.
var transitions = map[State][]State{
	StateIdle:      {StateCapturing},
	StateCapturing: {StatePreparing, StateIdle, StateFailed},
	StatePreparing: {StateUploading, StateFailed},
	StateUploading: {StateSucceeded, StateFailed},
	StateSucceeded: {StateIdle, StateCapturing},
	StateFailed:    {StateIdle, StateCapturing},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
