// Package report records check results and persists the outcome of a run.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"unrollcheck/internal/checks"
	"unrollcheck/internal/core"
)

// Status values of a CheckRecord.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// CheckRecord is the persisted outcome of one check.
//
// It carries no timestamps or durations so that two runs over the same
// corpus with the same compiler produce identical records.
type CheckRecord struct {
	ID       string                `json:"id" yaml:"id"`
	Kind     checks.Kind           `json:"kind" yaml:"kind"`
	Case     string                `json:"case" yaml:"case"`
	Factor   int                   `json:"factor,omitempty" yaml:"factor,omitempty"`
	Status   string                `json:"status" yaml:"status"`
	Category core.FailureCategory  `json:"category,omitempty" yaml:"category,omitempty"`
	Reason   core.DivergenceReason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message  string                `json:"message,omitempty" yaml:"message,omitempty"`
}

// RecordFrom converts a check result.
func RecordFrom(r checks.Result) CheckRecord {
	rec := CheckRecord{
		ID:       r.ID,
		Kind:     r.Kind,
		Case:     r.Case,
		Factor:   r.Factor,
		Status:   StatusPassed,
		Category: r.Category,
		Message:  r.Message,
	}
	if !r.Passed() {
		rec.Status = StatusFailed
	}
	if r.Verdict != nil {
		rec.Reason = r.Verdict.Reason
	}
	return rec
}

// Summary aggregates the records of a report.
type Summary struct {
	Total      int            `json:"total" yaml:"total"`
	Passed     int            `json:"passed" yaml:"passed"`
	Failed     int            `json:"failed" yaml:"failed"`
	ByCategory map[string]int `json:"by_category,omitempty" yaml:"by_category,omitempty"`
}

// Report is the canonical, deterministic record of a run's results.
//
// Canonical form: Checks sorted by ID, Summary recomputed from Checks.
// The report hash covers the canonical JSON encoding, so it only changes
// when the corpus or an outcome changes.
type Report struct {
	CorpusFingerprint string        `json:"corpus_fingerprint" yaml:"corpus_fingerprint"`
	Checks            []CheckRecord `json:"checks" yaml:"checks"`
	Summary           Summary       `json:"summary" yaml:"summary"`
}

// Validate checks basic invariants.
func (r *Report) Validate() error {
	if r == nil {
		return errors.New("report is nil")
	}
	var errs []error
	if r.CorpusFingerprint == "" {
		errs = append(errs, errors.New("corpus_fingerprint is required"))
	}
	seen := make(map[string]struct{}, len(r.Checks))
	for i, c := range r.Checks {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("checks[%d].id is required", i))
			continue
		}
		if _, dup := seen[c.ID]; dup {
			errs = append(errs, fmt.Errorf("checks[%d]: duplicate id %q", i, c.ID))
		}
		seen[c.ID] = struct{}{}
		if c.Status != StatusPassed && c.Status != StatusFailed {
			errs = append(errs, fmt.Errorf("checks[%d]: invalid status %q", i, c.Status))
		}
	}
	return errors.Join(errs...)
}

// Canonicalize sorts the records and recomputes the summary.
func (r *Report) Canonicalize() {
	if r == nil {
		return
	}
	sort.SliceStable(r.Checks, func(i, j int) bool { return r.Checks[i].ID < r.Checks[j].ID })

	s := Summary{Total: len(r.Checks)}
	for _, c := range r.Checks {
		if c.Status == StatusPassed {
			s.Passed++
			continue
		}
		s.Failed++
		if c.Category != core.CategoryNone {
			if s.ByCategory == nil {
				s.ByCategory = map[string]int{}
			}
			s.ByCategory[string(c.Category)]++
		}
	}
	r.Summary = s
}

func (r Report) canonicalCopy() Report {
	cp := Report{CorpusFingerprint: r.CorpusFingerprint}
	cp.Checks = make([]CheckRecord, len(r.Checks))
	copy(cp.Checks, r.Checks)
	cp.Canonicalize()
	return cp
}

// CanonicalJSON returns the compact canonical JSON encoding. It canonicalizes
// a copy, leaving r untouched.
func (r Report) CanonicalJSON() ([]byte, error) {
	cp := r.canonicalCopy()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	// Map keys are emitted sorted by encoding/json.
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex digest of the canonical JSON encoding.
func (r Report) Hash() (string, error) {
	b, err := r.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Format selects how a report is written to disk.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a report format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatYAML:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown report format %q (want json or yaml)", s)
	}
}

// Encode renders the canonical report in the given format.
func (r Report) Encode(f Format) ([]byte, error) {
	cp := r.canonicalCopy()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	switch f {
	case FormatYAML:
		return yaml.Marshal(&cp)
	case FormatJSON, "":
		b, err := json.MarshalIndent(&cp, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", f)
	}
}
