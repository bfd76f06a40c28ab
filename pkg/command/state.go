package command

// State is the lifecycle phase of a Command. Phases only move forward.
type State int32

const (
	StateCreated State = iota
	StateQueued
	StateExecuting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}
