package runner

// State is the lifecycle of a run.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}
