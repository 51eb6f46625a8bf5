package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Run is the metadata of one harness invocation.
type Run struct {
	RunID             string    `json:"run_id"`
	StartTime         time.Time `json:"start_time"`
	DurationSeconds   float64   `json:"duration_seconds"`
	Compiler          string    `json:"compiler"`
	CorpusDir         string    `json:"corpus_dir"`
	CorpusFingerprint string    `json:"corpus_fingerprint"`
	Mode              string    `json:"mode"`
	Status            string    `json:"status"`
	ReportFormat      Format    `json:"report_format"`
	ReportHash        string    `json:"report_hash"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	if r.Status != StatusPassed && r.Status != StatusFailed {
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if _, err := ParseFormat(string(r.ReportFormat)); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(r.ReportHash) == "" {
		errs = append(errs, errors.New("report_hash is required"))
	}
	return errors.Join(errs...)
}

// Store persists runs under:
//
//	<baseDir>/runs/<run-id>/run.json
//	<baseDir>/runs/<run-id>/report.<json|yaml>
//
// Every file is replaced atomically.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) runsRootDir() string {
	return filepath.Join(s.baseDir, "runs")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

// ReportPath returns where the report of runID is stored in format f.
func (s *Store) ReportPath(runID string, f Format) string {
	return filepath.Join(s.runDir(runID), "report."+string(f))
}

// Save writes the report and then the run metadata, filling in run.ReportHash
// and run.CorpusFingerprint from rep. The saved Run is returned.
func (s *Store) Save(run Run, rep Report) (Run, error) {
	if s == nil {
		return Run{}, errors.New("nil Store")
	}
	if run.ReportFormat == "" {
		run.ReportFormat = FormatJSON
	}
	hash, err := rep.Hash()
	if err != nil {
		return Run{}, fmt.Errorf("hashing report: %w", err)
	}
	run.ReportHash = hash
	run.CorpusFingerprint = rep.CorpusFingerprint
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run: %w", err)
	}

	data, err := rep.Encode(run.ReportFormat)
	if err != nil {
		return Run{}, fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(s.runDir(run.RunID), 0o755); err != nil {
		return Run{}, fmt.Errorf("ensure run dir: %w", err)
	}
	if err := atomic.WriteFile(s.ReportPath(run.RunID, run.ReportFormat), bytes.NewReader(data)); err != nil {
		return Run{}, fmt.Errorf("write report: %w", err)
	}

	meta, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return Run{}, fmt.Errorf("marshal run: %w", err)
	}
	if err := atomic.WriteFile(s.runPath(run.RunID), bytes.NewReader(append(meta, '\n'))); err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}
	return run, nil
}

// LoadRun reads and validates the metadata of runID.
func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

// LoadReport reads the JSON report of runID and verifies it against the
// hash recorded in its run metadata.
func (s *Store) LoadReport(runID string) (Report, error) {
	run, err := s.LoadRun(runID)
	if err != nil {
		return Report{}, err
	}
	if run.ReportFormat != FormatJSON {
		return Report{}, fmt.Errorf("run %s stored its report as %s", runID, run.ReportFormat)
	}
	var rep Report
	if err := readJSONStrict(s.ReportPath(runID, FormatJSON), &rep); err != nil {
		return Report{}, err
	}
	hash, err := rep.Hash()
	if err != nil {
		return Report{}, fmt.Errorf("invalid report on disk: %w", err)
	}
	if hash != run.ReportHash {
		return Report{}, fmt.Errorf("report hash mismatch for run %s: recorded %s, computed %s", runID, run.ReportHash, hash)
	}
	return rep, nil
}

// ListRunIDs returns the stored run IDs, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure no trailing junk.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}
