package checks

import (
	"time"

	"unrollcheck/internal/core"
)

// Result is the outcome of one check.
type Result struct {
	ID     string
	Kind   Kind
	Case   string
	Factor int

	State    CheckState
	Category core.FailureCategory

	// Message names the source file, the factor when there is one and the
	// failure category. Empty for passed checks.
	Message string

	// Verdict is set for equivalence checks that reached the oracle.
	Verdict *core.Verdict

	Duration time.Duration

	// Err is the underlying error of a failed check.
	Err error
}

// Passed reports whether the check passed.
func (r Result) Passed() bool { return r.State == CheckPassed }

// RunResult summarizes an Executor run.
type RunResult struct {
	// Results are in enumeration order regardless of completion order.
	Results []Result

	// ExecutionOrder is the order in which checks were started.
	ExecutionOrder []string

	// FinalState is the terminal state of each check by ID.
	FinalState RunState
}

// Failures returns the failed results in enumeration order.
func (r *RunResult) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}

// Counts returns the number of passed and failed checks.
func (r *RunResult) Counts() (passed, failed int) {
	for _, res := range r.Results {
		if res.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// ByCategory counts failed checks per failure category.
func (r *RunResult) ByCategory() map[core.FailureCategory]int {
	out := make(map[core.FailureCategory]int)
	for _, res := range r.Failures() {
		out[res.Category]++
	}
	return out
}
