package checks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unrollcheck/internal/compile"
	"unrollcheck/internal/core"
	"unrollcheck/internal/oracle"
)

// Markers the unroller prints on its diagnostic stream.
const (
	AcceptMarker = "DUFF: Can unroll!"
	RejectMarker = "DUFF: Cannot unroll!"
)

// CheckRunner executes a single check.
//
// Failures are reported in the Result, never as a panic or by affecting
// other checks.
type CheckRunner interface {
	Run(ctx context.Context, c Check) Result
}

// Runner is the CheckRunner backed by the real compile stage and oracle.
type Runner struct {
	Stage  *compile.Stage
	Oracle *oracle.Oracle

	AcceptMarker string
	RejectMarker string

	Logger *zap.Logger
}

// NewRunner creates a Runner with the default markers.
func NewRunner(stage *compile.Stage, o *oracle.Oracle) *Runner {
	return &Runner{
		Stage:        stage,
		Oracle:       o,
		AcceptMarker: AcceptMarker,
		RejectMarker: RejectMarker,
		Logger:       zap.NewNop(),
	}
}

// Run executes c and always releases every artifact it created.
func (r *Runner) Run(ctx context.Context, c Check) Result {
	start := time.Now()
	res := Result{ID: c.ID, Kind: c.Kind, Case: c.Case.Name, Factor: c.Factor}

	var err error
	switch c.Kind {
	case KindCorrectness, KindSweep:
		var v *core.Verdict
		v, err = r.runEquivalence(ctx, c)
		res.Verdict = v
	case KindAccept:
		err = r.runDiagnostic(ctx, c, r.AcceptMarker)
	case KindReject:
		err = r.runDiagnostic(ctx, c, r.RejectMarker)
	default:
		err = fmt.Errorf("unknown check kind %q", c.Kind)
	}

	res.Duration = time.Since(start)
	if err == nil {
		res.State = CheckPassed
		r.logger().Debug("check passed", zap.String("check", c.ID), zap.Duration("duration", res.Duration))
		return res
	}

	res.State = CheckFailed
	res.Err = err
	res.Category = core.Category(err)
	res.Message = failureMessage(c, res.Category, err)
	r.logger().Info("check failed",
		zap.String("check", c.ID),
		zap.String("category", string(res.Category)),
		zap.Error(err),
	)
	return res
}

func (r *Runner) runEquivalence(ctx context.Context, c Check) (*core.Verdict, error) {
	baseline, unrolled, err := r.Stage.CompilePair(ctx, c.Case, c.Factor)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = baseline.Release()
		_ = unrolled.Release()
	}()

	v := r.Oracle.Compare(ctx, baseline.Path, unrolled.Path)
	return &v, core.VerdictError(v)
}

func (r *Runner) runDiagnostic(ctx context.Context, c Check, marker string) error {
	diag, err := r.Stage.CompileDiagnosticOnly(ctx, c.Case)
	if err != nil {
		return err
	}
	if diag.Contains(marker) {
		return nil
	}
	if diag.Truncated {
		return &core.InfraError{
			Code:    "diagnostic-truncated",
			Message: fmt.Sprintf("%q not found in compiler stderr, which exceeded the output limit", marker),
		}
	}
	return &core.DiagnosticError{Expected: marker, Lines: diag.Lines}
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func failureMessage(c Check, category core.FailureCategory, err error) string {
	if c.Kind.IsEquivalence() {
		return fmt.Sprintf("%s (factor %d): %s: %v", c.Case.Name, c.Factor, category, err)
	}
	return fmt.Sprintf("%s: %s: %v", c.Case.Name, category, err)
}
