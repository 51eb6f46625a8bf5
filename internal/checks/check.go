package checks

import (
	"fmt"

	"unrollcheck/internal/core"
	"unrollcheck/internal/corpus"
)

// Kind groups checks by what they assert.
type Kind string

const (
	// KindCorrectness compares baseline and unrolled behavior at the
	// default factor.
	KindCorrectness Kind = "correctness"

	// KindSweep compares baseline and unrolled behavior at one factor of
	// the sweep range.
	KindSweep Kind = "sweep"

	// KindAccept expects the unroller to report that it can unroll.
	KindAccept Kind = "accept"

	// KindReject expects the unroller to report that it cannot unroll.
	KindReject Kind = "reject"
)

// IsEquivalence reports whether checks of this kind run the oracle.
func (k Kind) IsEquivalence() bool {
	return k == KindCorrectness || k == KindSweep
}

// Check is one independent unit of work.
type Check struct {
	// ID is unique within a run, e.g. "sweep/factor_5-loop.c".
	ID string

	Kind Kind
	Case core.TestCase

	// Factor is the unroll factor; 0 for diagnostic checks.
	Factor int
}

// TestName is the name of the check without its group prefix:
// "factor_<n>-<file>" for equivalence checks, the file name otherwise.
func (c Check) TestName() string {
	if c.Kind.IsEquivalence() {
		return fmt.Sprintf("factor_%d-%s", c.Factor, c.Case.Name)
	}
	return c.Case.Name
}

func (c Check) String() string { return c.ID }

func newCheck(kind Kind, tc core.TestCase, factor int) Check {
	c := Check{Kind: kind, Case: tc, Factor: factor}
	c.ID = string(kind) + "/" + c.TestName()
	return c
}

// Plan selects which groups of checks to enumerate.
type Plan struct {
	Correctness bool
	Sweep       bool
	Accept      bool
	Reject      bool

	// DefaultFactor is used by correctness checks.
	DefaultFactor int

	// Factors is the sweep range.
	Factors core.FactorRange
}

// DefaultPlan enables the correctness and diagnostic groups with factor 4
// and the sweep range [2, 32).
func DefaultPlan() Plan {
	return Plan{
		Correctness:   true,
		Accept:        true,
		Reject:        true,
		DefaultFactor: 4,
		Factors:       core.FactorRange{Min: 2, Max: 32},
	}
}

// Validate rejects plans that would enumerate meaningless checks.
func (p Plan) Validate() error {
	if p.Correctness && p.DefaultFactor < 1 {
		return fmt.Errorf("default factor must be >= 1 (got %d)", p.DefaultFactor)
	}
	if p.Sweep && len(p.Factors.Factors()) == 0 {
		return fmt.Errorf("factor range [%d, %d) is empty", p.Factors.Min, p.Factors.Max)
	}
	if p.Sweep && p.Factors.Min < 1 {
		return fmt.Errorf("factor range must start at >= 1 (got %d)", p.Factors.Min)
	}
	return nil
}

// Enumerate lists the checks of plan over c.
//
// Groups are emitted in the order correctness, sweep, accept, reject. Within
// a group checks follow corpus (name) order, and sweep checks list every
// factor of a case before moving on to the next case. The result is a pure
// function of the corpus and the plan.
func Enumerate(c *corpus.Corpus, plan Plan) []Check {
	valid := c.Valid()
	invalid := c.Invalid()
	var out []Check

	if plan.Correctness {
		for _, tc := range valid {
			out = append(out, newCheck(KindCorrectness, tc, plan.DefaultFactor))
		}
	}
	if plan.Sweep {
		for _, tc := range valid {
			for _, f := range plan.Factors.Factors() {
				out = append(out, newCheck(KindSweep, tc, f))
			}
		}
	}
	if plan.Accept {
		for _, tc := range valid {
			out = append(out, newCheck(KindAccept, tc, 0))
		}
	}
	if plan.Reject {
		for _, tc := range invalid {
			out = append(out, newCheck(KindReject, tc, 0))
		}
	}
	return out
}
