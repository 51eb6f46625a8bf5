// Package oracle decides whether two executables behave equivalently.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"unrollcheck/internal/core"
)

// DefaultTimeout bounds each run.
const DefaultTimeout = 10 * time.Second

// Oracle runs a baseline and a transformed executable and classifies the
// pair of observations.
//
// The rules, applied in order:
//
//  1. timed-out flags must agree (timeout-mismatch)
//  2. both timed out: equivalent
//  3. exit statuses must agree (exit-code-mismatch, with the detail flagged
//     non-zero-exit-on-one-side when only one side exited 0)
//  4. both exited 0: normalized stdout must agree (output-mismatch); when
//     either stdout hit the output limit and the captured prefixes agree,
//     the verdict is inconclusive (output-truncated)
//  5. equal non-zero statuses: equivalent, output is not compared
//
// A side that cannot be launched makes the verdict inconclusive.
type Oracle struct {
	Executor   *core.Executor
	Timeout    time.Duration
	Normalizer core.OutputNormalizer
	Logger     *zap.Logger
}

// New creates an Oracle using newline-insensitive output comparison.
func New(executor *core.Executor) *Oracle {
	return &Oracle{
		Executor:   executor,
		Timeout:    DefaultTimeout,
		Normalizer: core.NewLineJoinNormalizer(),
		Logger:     zap.NewNop(),
	}
}

// Compare runs both executables concurrently, each with no arguments, the
// inherited environment and its own timer.
func (o *Oracle) Compare(ctx context.Context, baselinePath, transformedPath string) core.Verdict {
	var baseline, transformed *core.ProcessResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		baseline, err = o.run(gctx, baselinePath)
		return err
	})
	g.Go(func() error {
		var err error
		transformed, err = o.run(gctx, transformedPath)
		return err
	})
	if err := g.Wait(); err != nil {
		var launchErr *core.LaunchError
		if errors.As(err, &launchErr) {
			return core.Inconclusive(core.CauseRunnerLaunchFailure, err.Error())
		}
		return core.Inconclusive("runner-failure", err.Error())
	}

	v := o.Classify(baseline, transformed)
	o.logger().Debug("compared",
		zap.String("baseline", baselinePath),
		zap.String("transformed", transformedPath),
		zap.Stringer("verdict", v),
	)
	return v
}

// Classify applies the comparison rules to two drained results.
func (o *Oracle) Classify(baseline, transformed *core.ProcessResult) core.Verdict {
	b := core.ObservationFrom(baseline)
	t := core.ObservationFrom(transformed)

	if b.TimedOut != t.TimedOut {
		return core.Divergent(core.ReasonTimeoutMismatch, b, t,
			fmt.Sprintf("baseline %s, transformed %s", b.Status(), t.Status()))
	}
	if b.TimedOut {
		return core.Equivalent(b, t)
	}

	if b.Exited != t.Exited || b.ExitCode != t.ExitCode || b.Signal != t.Signal {
		detail := fmt.Sprintf("baseline %s, transformed %s", b.Status(), t.Status())
		if b.Succeeded() != t.Succeeded() {
			detail = fmt.Sprintf("%s: %s", core.ReasonNonZeroExitOnOneSide, detail)
		}
		return core.Divergent(core.ReasonExitCodeMismatch, b, t, detail)
	}
	if !b.Exited || b.ExitCode != 0 {
		return core.Equivalent(b, t)
	}

	bOut := o.normalizer().Normalize(baseline.Stdout)
	tOut := o.normalizer().Normalize(transformed.Stdout)
	b.Output = string(bOut)
	t.Output = string(tOut)
	if b.Truncated || t.Truncated {
		if truncatedOutputsDiffer(b, t) {
			return core.Divergent(core.ReasonOutputMismatch, b, t, outputDetail(baseline.Stdout, transformed.Stdout, b.Output, t.Output))
		}
		v := core.Inconclusive(core.CauseOutputTruncated, truncatedDetail(b, t, o.Executor))
		v.Baseline, v.Transformed = b, t
		return v
	}
	if b.Output != t.Output {
		return core.Divergent(core.ReasonOutputMismatch, b, t, outputDetail(baseline.Stdout, transformed.Stdout, b.Output, t.Output))
	}
	return core.Equivalent(b, t)
}

// truncatedOutputsDiffer reports whether outputs that were cut off at the
// limit are already known to differ. Normalizing a prefix yields a prefix of
// the normalized whole, so a mismatch within the common length is final, as
// is a complete output shorter than what the other side was seen printing.
func truncatedOutputsDiffer(b, t core.Observation) bool {
	n := min(len(b.Output), len(t.Output))
	if b.Output[:n] != t.Output[:n] {
		return true
	}
	if !b.Truncated && len(b.Output) < len(t.Output) {
		return true
	}
	return !t.Truncated && len(t.Output) < len(b.Output)
}

func truncatedDetail(b, t core.Observation, e *core.Executor) string {
	var sides []string
	if b.Truncated {
		sides = append(sides, "baseline")
	}
	if t.Truncated {
		sides = append(sides, "transformed")
	}
	limit := "output limit"
	if e != nil && e.OutputLimit > 0 {
		limit = humanize.Bytes(uint64(e.OutputLimit)) + " output limit"
	}
	return fmt.Sprintf("%s stdout exceeded the %s; captured prefixes agree (%s and %s bytes)",
		strings.Join(sides, " and "), limit,
		humanize.Comma(int64(len(b.Output))), humanize.Comma(int64(len(t.Output))))
}

func (o *Oracle) run(ctx context.Context, path string) (*core.ProcessResult, error) {
	return o.Executor.Run(ctx, core.Command{
		Path:    path,
		Env:     core.Inherit(nil),
		Timeout: o.timeout(),
	})
}

func (o *Oracle) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o *Oracle) normalizer() core.OutputNormalizer {
	if o.Normalizer == nil {
		return core.NewLineJoinNormalizer()
	}
	return o.Normalizer
}

func (o *Oracle) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// outputDetail reports both lengths and contents, followed by a unified diff
// of the raw line-oriented output.
func outputDetail(rawBaseline, rawTransformed []byte, baseline, transformed string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "baseline output length %s, transformed output length %s\n",
		humanize.Comma(int64(len(baseline))), humanize.Comma(int64(len(transformed))))
	fmt.Fprintf(&sb, "baseline:    %q\n", baseline)
	fmt.Fprintf(&sb, "transformed: %q\n", transformed)

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(rawBaseline)),
		B:        difflib.SplitLines(string(rawTransformed)),
		FromFile: "baseline",
		ToFile:   "transformed",
		Context:  3,
	})
	if err == nil && diff != "" {
		sb.WriteString(diff)
	}
	return strings.TrimRight(sb.String(), "\n")
}
