package core

import "fmt"

// Class is the expected outcome of running the unroller over a TestCase.
//
// The class is derived once from the file name when the corpus is loaded and
// never re-derived afterwards.
type Class string

const (
	// ClassValid files must compile, be accepted by the unroller and behave
	// identically at every unroll factor.
	ClassValid Class = "valid"

	// ClassInvalid files must be rejected by the unroller.
	ClassInvalid Class = "invalid"
)

// TestCase is one source file of the corpus.
type TestCase struct {
	// Path is the absolute path of the source file.
	Path string `json:"path" yaml:"path"`

	// Name is the base name, used in check names and failure messages.
	Name string `json:"name" yaml:"name"`

	Class Class `json:"class" yaml:"class"`
}

func (tc TestCase) String() string {
	return fmt.Sprintf("%s (%s)", tc.Name, tc.Class)
}

// FactorRange is the half-open range [Min, Max) of unroll factors exercised by
// the full factor sweep.
type FactorRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Factors returns every factor in the range in ascending order.
func (r FactorRange) Factors() []int {
	if r.Max <= r.Min {
		return nil
	}
	out := make([]int, 0, r.Max-r.Min)
	for f := r.Min; f < r.Max; f++ {
		out = append(out, f)
	}
	return out
}

// Contains reports whether f lies inside the range.
func (r FactorRange) Contains(f int) bool {
	return f >= r.Min && f < r.Max
}
