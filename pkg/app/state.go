package app

// State is the role dispatch lifecycle state
type State int

const (
	StateUninitialized State = iota
	StateDispatching
	StateCoordinatorRunning
	StateWorkerRunning
	StateDispatchFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDispatching:
		return "dispatching"
	case StateCoordinatorRunning:
		return "coordinator-running"
	case StateWorkerRunning:
		return "worker-running"
	case StateDispatchFailed:
		return "dispatch-failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Running reports whether a manager is active in this state
func (s State) Running() bool {
	return s == StateCoordinatorRunning || s == StateWorkerRunning
}
