package dispatch

import "fmt"

// RunState is the lifecycle of a dispatch.
type RunState string

const (
	RunPending   RunState = "pending"
	RunInFlight  RunState = "in_flight"
	RunCompleted RunState = "completed"
)

// transition validates a run state change. A run that never reached any
// browser may complete straight from pending.
func transition(cur *RunState, from, to RunState) error {
	if *cur != from {
		return fmt.Errorf("invalid run transition: expected %s, got %s", from, *cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed run transition: %s -> %s", from, to)
	}
	*cur = to
	return nil
}

func isAllowedTransition(from, to RunState) bool {
	switch from {
	case RunPending:
		return to == RunInFlight || to == RunCompleted
	case RunInFlight:
		return to == RunCompleted
	default:
		return false
	}
}
