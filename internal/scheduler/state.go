package scheduler

import "fmt"

type State int32

const (
	Pending State = iota
	Running
	Complete
	Interrupted
)

// Terminal reports whether s is final. A runner never leaves a terminal state.
func (s State) Terminal() bool { return s == Complete || s == Interrupted }

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	case Interrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
