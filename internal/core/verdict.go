package core

import "fmt"

// VerdictKind is the top-level outcome of an equivalence comparison.
type VerdictKind string

const (
	VerdictEquivalent   VerdictKind = "equivalent"
	VerdictDivergent    VerdictKind = "divergent"
	VerdictInconclusive VerdictKind = "inconclusive"
)

// DivergenceReason names the comparison rule that fired.
//
// The string values appear in failure messages and reports; do not rename.
type DivergenceReason string

const (
	ReasonTimeoutMismatch      DivergenceReason = "timeout-mismatch"
	ReasonExitCodeMismatch     DivergenceReason = "exit-code-mismatch"
	ReasonOutputMismatch       DivergenceReason = "output-mismatch"
	ReasonNonZeroExitOnOneSide DivergenceReason = "non-zero-exit-on-one-side"
)

// CauseRunnerLaunchFailure is the Inconclusive cause used when a compiled
// artifact could not be started at all.
const CauseRunnerLaunchFailure = "runner-launch-failure"

// CauseOutputTruncated is the Inconclusive cause used when both sides exited
// 0 and agree on everything captured, but at least one stdout was cut off at
// the executor's output limit.
const CauseOutputTruncated = "output-truncated"

// Observation is what the oracle saw for one side of the comparison.
type Observation struct {
	TimedOut bool   `json:"timed_out" yaml:"timed_out"`
	Exited   bool   `json:"exited" yaml:"exited"`
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	Signal   string `json:"signal,omitempty" yaml:"signal,omitempty"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`

	// Truncated reports that stdout hit the output limit, so Output is a
	// prefix of what the program printed.
	Truncated bool `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// Status renders the termination status for messages.
func (o Observation) Status() string {
	switch {
	case o.TimedOut:
		return "timed out"
	case o.Exited:
		return fmt.Sprintf("exit %d", o.ExitCode)
	case o.Signal != "":
		return "killed by " + o.Signal
	default:
		return "unknown"
	}
}

// Succeeded reports a normal exit with code 0.
func (o Observation) Succeeded() bool {
	return !o.TimedOut && o.Exited && o.ExitCode == 0
}

// ObservationFrom converts a drained process result into an Observation.
// Output is filled in by the caller only when it is compared.
func ObservationFrom(r *ProcessResult) Observation {
	if r == nil {
		return Observation{}
	}
	return Observation{
		TimedOut:  r.TimedOut,
		Exited:    r.Exited,
		ExitCode:  r.ExitCode,
		Signal:    r.Signal,
		Truncated: r.StdoutTruncated,
	}
}

// Verdict is produced once per (TestCase, factor) comparison and never
// mutated afterwards.
type Verdict struct {
	Kind VerdictKind `json:"kind" yaml:"kind"`

	// Reason is set for Divergent verdicts.
	Reason DivergenceReason `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Cause is set for Inconclusive verdicts.
	Cause string `json:"cause,omitempty" yaml:"cause,omitempty"`

	Baseline    Observation `json:"baseline" yaml:"baseline"`
	Transformed Observation `json:"transformed" yaml:"transformed"`

	// Detail is the human-readable diagnosis (lengths, contents, diff).
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func Equivalent(baseline, transformed Observation) Verdict {
	return Verdict{Kind: VerdictEquivalent, Baseline: baseline, Transformed: transformed}
}

func Divergent(reason DivergenceReason, baseline, transformed Observation, detail string) Verdict {
	return Verdict{Kind: VerdictDivergent, Reason: reason, Baseline: baseline, Transformed: transformed, Detail: detail}
}

func Inconclusive(cause string, detail string) Verdict {
	return Verdict{Kind: VerdictInconclusive, Cause: cause, Detail: detail}
}

func (v Verdict) IsEquivalent() bool { return v.Kind == VerdictEquivalent }

func (v Verdict) String() string {
	switch v.Kind {
	case VerdictDivergent:
		return fmt.Sprintf("divergent (%s)", v.Reason)
	case VerdictInconclusive:
		return fmt.Sprintf("inconclusive (%s)", v.Cause)
	default:
		return string(v.Kind)
	}
}
