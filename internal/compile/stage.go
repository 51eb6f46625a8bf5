package compile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"unrollcheck/internal/core"
)

// DefaultTimeout bounds every compile.
const DefaultTimeout = 10 * time.Second

// Stage drives the compiler under test.
//
// Every compile writes into a fresh artifact from Temps. On any failure the
// artifact is released before the error is returned, so callers only ever
// own artifacts of successful compiles.
type Stage struct {
	// Compiler is the path of the compiler executable.
	Compiler string

	Timeout time.Duration

	// ExtraFlags are appended to every compile, before -o.
	ExtraFlags []string

	// DebugMask overrides DefaultDebugMask for diagnostic compiles.
	DebugMask string

	Executor *core.Executor
	Temps    *core.TempRegistry
	Logger   *zap.Logger
}

// NewStage creates a Stage with the default timeout.
func NewStage(compiler string, executor *core.Executor, temps *core.TempRegistry) *Stage {
	return &Stage{
		Compiler: compiler,
		Timeout:  DefaultTimeout,
		Executor: executor,
		Temps:    temps,
		Logger:   zap.NewNop(),
	}
}

// ParseExtraFlags splits a shell-quoted flag string.
func ParseExtraFlags(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	flags, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("parsing extra compiler flags %q: %w", s, err)
	}
	return flags, nil
}

// CompileBaseline builds the reference executable at -O0.
//
// A timeout is a *core.FatalHangError. Any other non-zero exit is an
// infrastructure failure: the test case must compile cleanly without
// unrolling.
func (s *Stage) CompileBaseline(ctx context.Context, tc core.TestCase, factor int) (*core.CompiledArtifact, error) {
	return s.compile(ctx, tc, core.RoleBaseline, factor, BaselineInvocation())
}

// CompileUnrolled builds the transformed executable with the given factor.
//
// A timeout is reported as *core.FatalHangError and a non-zero exit as
// *core.CompileRejectedError.
func (s *Stage) CompileUnrolled(ctx context.Context, tc core.TestCase, factor int) (*core.CompiledArtifact, error) {
	return s.compile(ctx, tc, core.RoleUnrolled, factor, UnrolledInvocation(factor))
}

// CompilePair runs the baseline and unrolled compiles concurrently. On error
// neither artifact is returned.
func (s *Stage) CompilePair(ctx context.Context, tc core.TestCase, factor int) (baseline, unrolled *core.CompiledArtifact, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		baseline, err = s.CompileBaseline(gctx, tc, factor)
		return err
	})
	g.Go(func() error {
		var err error
		unrolled, err = s.CompileUnrolled(gctx, tc, factor)
		return err
	})
	if err := g.Wait(); err != nil {
		_ = baseline.Release()
		_ = unrolled.Release()
		return nil, nil, err
	}
	return baseline, unrolled, nil
}

// Diagnostics is the stderr of a diagnostic-only compile.
type Diagnostics struct {
	Lines []string

	// Truncated reports that stderr hit the executor's output limit, so a
	// marker printed late may be missing from Lines.
	Truncated bool
}

// Contains reports whether any captured line contains marker.
func (d Diagnostics) Contains(marker string) bool {
	for _, line := range d.Lines {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// CompileDiagnosticOnly compiles tc with unrolling forced off and returns the
// compiler's stderr. The executable produced is discarded.
//
// The compile runs with the debug mask as its entire environment. A non-zero
// exit is not an error here; the caller only inspects the diagnostic stream.
func (s *Stage) CompileDiagnosticOnly(ctx context.Context, tc core.TestCase) (Diagnostics, error) {
	art, err := s.Temps.Create(core.RoleDiagnostic, 0)
	if err != nil {
		return Diagnostics{}, err
	}
	defer func() { _ = art.Release() }()

	inv := DiagnosticInvocation(s.DebugMask)
	inv.ExtraFlags = s.ExtraFlags

	res, err := s.run(ctx, inv, tc, art)
	if err != nil {
		return Diagnostics{}, err
	}
	if res.TimedOut {
		return Diagnostics{}, &core.FatalHangError{Role: string(core.RoleDiagnostic), Message: fmt.Sprintf("%s did not finish within %s", tc.Name, s.timeout())}
	}

	diag := Diagnostics{Lines: res.StderrLines(), Truncated: res.StderrTruncated}
	for _, line := range diag.Lines {
		s.logger().Debug("compiler diagnostic", zap.String("test", tc.Name), zap.String("line", line))
	}
	return diag, nil
}

func (s *Stage) compile(ctx context.Context, tc core.TestCase, role core.ArtifactRole, factor int, inv Invocation) (*core.CompiledArtifact, error) {
	art, err := s.Temps.Create(role, factor)
	if err != nil {
		return nil, err
	}
	inv.ExtraFlags = s.ExtraFlags

	res, err := s.run(ctx, inv, tc, art)
	if err == nil {
		err = s.checkResult(res, tc, role, factor)
	}
	if err == nil {
		if mkErr := core.MakeExecutable(art.Path); mkErr != nil {
			err = &core.InfraError{Code: "permissions", Message: fmt.Sprintf("making %s executable", art.Path), Cause: mkErr}
		}
	}
	if err != nil {
		_ = art.Release()
		return nil, err
	}

	s.logger().Debug("compiled",
		zap.String("test", tc.Name),
		zap.String("role", string(role)),
		zap.Int("factor", factor),
		zap.Duration("duration", res.Duration),
	)
	return art, nil
}

func (s *Stage) run(ctx context.Context, inv Invocation, tc core.TestCase, art *core.CompiledArtifact) (*core.ProcessResult, error) {
	if s.Compiler == "" {
		return nil, &core.InfraError{Code: "config", Message: "compiler path is not set"}
	}
	cmd := inv.command(s.Compiler, tc.Path, art.Path, s.timeout())
	res, err := s.Executor.Run(ctx, cmd)
	if err != nil {
		var launchErr *core.LaunchError
		if errors.As(err, &launchErr) {
			return nil, &core.InfraError{Code: "compiler-launch-failure", Message: cmd.String(), Cause: err}
		}
		return nil, err
	}
	return res, nil
}

func (s *Stage) checkResult(res *core.ProcessResult, tc core.TestCase, role core.ArtifactRole, factor int) error {
	if res.TimedOut {
		return &core.FatalHangError{
			Role:    string(role),
			Message: fmt.Sprintf("%s with factor %d did not finish within %s", tc.Name, factor, s.timeout()),
		}
	}
	if res.Success() {
		return nil
	}
	stderr := strings.TrimSpace(string(res.Stderr))
	if role == core.RoleBaseline {
		return &core.InfraError{
			Code:    "baseline-compile-failure",
			Message: fmt.Sprintf("%s failed to compile without unrolling (%s): %s", tc.Name, core.ObservationFrom(res).Status(), stderr),
		}
	}
	return &core.CompileRejectedError{ExitCode: res.ExitCode, Stderr: stderr}
}

func (s *Stage) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func (s *Stage) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
