package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"unrollcheck/internal/checks"
	"unrollcheck/internal/core"
)

// printSummary writes every failure, in enumeration order, followed by a
// one-line tally.
func printSummary(w io.Writer, run *checks.RunResult, elapsed time.Duration) {
	if run == nil {
		return
	}
	for _, f := range run.Failures() {
		fmt.Fprintf(w, "FAIL %s\n", f.ID)
		for _, line := range strings.Split(strings.TrimRight(f.Message, "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}

	passed, failed := run.Counts()
	fmt.Fprintf(w, "ran %s %s in %s: %s passed, %s failed%s\n",
		humanize.Comma(int64(passed+failed)),
		plural(passed+failed, "check", "checks"),
		elapsed.Round(time.Millisecond),
		humanize.Comma(int64(passed)),
		humanize.Comma(int64(failed)),
		categoryBreakdown(run.ByCategory()),
	)
}

// categoryBreakdown renders " (divergence: 2, fatal-hang: 1)" sorted by
// category, or "" when nothing failed.
func categoryBreakdown(counts map[core.FailureCategory]int) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, humanize.Comma(int64(counts[core.FailureCategory(k)]))))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
