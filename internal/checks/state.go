package checks

import "fmt"

// CheckState is the runtime state of one check.
//
//	PENDING -> RUNNING -> PASSED | FAILED
type CheckState string

const (
	CheckPending CheckState = "PENDING"
	CheckRunning CheckState = "RUNNING"
	CheckPassed  CheckState = "PASSED"
	CheckFailed  CheckState = "FAILED"
)

// RunState holds the state of every check keyed by check ID.
type RunState map[string]CheckState

// IsTerminal reports whether the state is final.
func IsTerminal(s CheckState) bool {
	return s == CheckPassed || s == CheckFailed
}

// Transition performs a validated transition for a single check.
//
// The caller supplies the expected prior state so that races are observable.
// state is mutated if and only if the transition is valid.
func Transition(state RunState, id string, from, to CheckState) error {
	cur, ok := state[id]
	if !ok {
		return fmt.Errorf("unknown check in state: %q", id)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", id, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", id, from, to)
	}
	state[id] = to
	return nil
}

func isAllowedTransition(from, to CheckState) bool {
	switch from {
	case CheckPending:
		return to == CheckRunning
	case CheckRunning:
		return to == CheckPassed || to == CheckFailed
	default:
		return false
	}
}
