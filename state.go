package cargo

// State is the lifecycle state of a container.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

func (s State) String() string {
	return string(s)
}

func (s State) canStart() bool {
	return s == StateCreated || s == StateStopped || s == StateFailed
}
