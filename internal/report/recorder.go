package report

import (
	"sync"

	"unrollcheck/internal/checks"
)

// SafeRecord records r and swallows any panic from a buggy sink.
func SafeRecord(s checks.Sink, r checks.Result) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(r)
}

// Fanout forwards every result to each of its sinks.
type Fanout []checks.Sink

func (f Fanout) Record(r checks.Result) {
	for _, s := range f {
		SafeRecord(s, r)
	}
}

// Recorder is a concurrency-safe in-memory collector of check results.
//
// Recording order does not matter: the report built from it is canonical.
type Recorder struct {
	mu      sync.Mutex
	records []CheckRecord
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(res checks.Result) {
	if r == nil {
		return
	}
	rec := RecordFrom(res)
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Snapshot returns a copy of the recorded records in recording order.
func (r *Recorder) Snapshot() []CheckRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CheckRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Report builds a canonical report from the records collected so far.
func (r *Recorder) Report(corpusFingerprint string) Report {
	rep := Report{CorpusFingerprint: corpusFingerprint, Checks: r.Snapshot()}
	rep.Canonicalize()
	return rep
}
