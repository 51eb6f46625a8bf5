package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"unrollcheck/internal/report"
)

// ListRuns prints one line per run stored under reportDir, oldest first.
//
// JSON reports are re-read and checked against the hash recorded in their run
// metadata. A run that cannot be read or fails the check is still listed, and
// the returned error names every such run.
func ListRuns(w io.Writer, reportDir string) error {
	store, err := report.NewStore(reportDir)
	if err != nil {
		return err
	}
	ids, err := store.ListRunIDs()
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintf(w, "no runs under %s\n", reportDir)
		return nil
	}

	var errs []error
	runs := make([]report.Run, 0, len(ids))
	for _, id := range ids {
		run, err := store.LoadRun(id)
		if err != nil {
			fmt.Fprintf(w, "%s  unreadable\n", id)
			errs = append(errs, fmt.Errorf("run %s: %w", id, err))
			continue
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartTime.Before(runs[j].StartTime) })

	for _, run := range runs {
		line := fmt.Sprintf("%s  %s  %-11s %-6s", run.RunID, run.StartTime.UTC().Format(time.RFC3339), run.Mode, run.Status)
		if run.ReportFormat != report.FormatJSON {
			fmt.Fprintf(w, "%s  %s report not verified\n", line, run.ReportFormat)
			continue
		}
		rep, err := store.LoadReport(run.RunID)
		if err != nil {
			fmt.Fprintf(w, "%s  corrupt report\n", line)
			errs = append(errs, fmt.Errorf("run %s: %w", run.RunID, err))
			continue
		}
		fmt.Fprintf(w, "%s  %d/%d passed\n", line, rep.Summary.Passed, rep.Summary.Total)
	}
	return errors.Join(errs...)
}
