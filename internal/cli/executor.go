package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"unrollcheck/internal/checks"
	"unrollcheck/internal/compile"
	"unrollcheck/internal/config"
	"unrollcheck/internal/core"
	"unrollcheck/internal/corpus"
	"unrollcheck/internal/oracle"
	"unrollcheck/internal/report"
)

// SuiteExecutor is the minimal engine interface the CLI wires into.
//
// This allows the CLI to prove exit-code mapping (including panic) in tests
// without depending on the check executor internals.
type SuiteExecutor interface {
	Run(ctx context.Context, list []checks.Check, runner checks.CheckRunner, sink checks.Sink, concurrency int) (*checks.RunResult, error)
}

type defaultSuiteExecutor struct{}

func (defaultSuiteExecutor) Run(ctx context.Context, list []checks.Check, runner checks.CheckRunner, sink checks.Sink, concurrency int) (*checks.RunResult, error) {
	exec, err := checks.NewExecutor(list, runner)
	if err != nil {
		return nil, err
	}
	exec.Sink = sink
	if concurrency <= 1 {
		return exec.RunSerial(ctx)
	}
	return exec.RunParallel(ctx, concurrency)
}

type CLIResult struct {
	ExitCode int
	Run      *checks.RunResult
	Report   *report.Report

	// SavedRun is set when the report was persisted with --report-dir.
	SavedRun *report.Run
}

// Env is the process state Execute reads. Zero fields fall back to the real
// process: os.Stdout, os.Environ() and a logger built from the invocation.
type Env struct {
	Stdout  io.Writer
	Environ []string
	Logger  *zap.Logger
}

// Execute is the default entrypoint for running a canonical invocation.
func Execute(ctx context.Context, inv CLIInvocation) (CLIResult, error) {
	return ExecuteWithExecutor(ctx, inv, Env{Stdout: os.Stdout, Environ: os.Environ()}, defaultSuiteExecutor{})
}

// ExecuteWithExecutor runs inv against a caller-supplied suite executor.
//
// Every temporary artifact is removed before it returns, whatever the
// outcome, and a panic anywhere below it maps to ExitInternalError.
func ExecuteWithExecutor(ctx context.Context, inv CLIInvocation, env Env, suite SuiteExecutor) (res CLIResult, execErr error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := env.Stdout
	if out == nil {
		out = io.Discard
	}
	environ := env.Environ
	if environ == nil {
		environ = os.Environ()
	}

	logger := env.Logger
	if logger == nil {
		l, err := NewLogger(inv.Verbose)
		if err != nil {
			return CLIResult{ExitCode: ExitInternalError}, err
		}
		logger = l
		defer func() { _ = logger.Sync() }()
	}

	defer func() {
		if r := recover(); r != nil {
			res = CLIResult{ExitCode: ExitInternalError}
			execErr = fmt.Errorf("panic: %v", r)
			logger.Error("internal error", zap.Error(execErr))
		}
	}()

	if inv.ListRuns {
		if err := ListRuns(out, inv.ReportDir); err != nil {
			return CLIResult{ExitCode: ExitInternalError}, err
		}
		return CLIResult{ExitCode: ExitSuccess}, nil
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDir:    inv.WorkDir,
		ConfigPath: inv.ConfigPath,
		Env:        config.EnvMap(environ),
		Overrides:  inv.Overrides(),
	})
	if err != nil {
		return CLIResult{ExitCode: ExitConfigError}, err
	}
	logger.Debug("configuration loaded",
		zap.String("compiler", cfg.Compiler),
		zap.String("corpus", cfg.CorpusDir),
		zap.String("dotenv", cfg.Sources.DotEnv),
		zap.String("config_file", cfg.Sources.File),
		zap.Duration("compile_timeout", cfg.CompileTimeout),
		zap.Duration("run_timeout", cfg.RunTimeout),
	)

	c, err := corpus.Load(cfg.CorpusDir, corpus.Classifier{
		SourceExt:       cfg.SourceExt,
		InvalidSuffixes: cfg.InvalidSuffixes,
	})
	if err != nil {
		return CLIResult{ExitCode: ExitConfigError}, err
	}
	if len(inv.Cases) > 0 {
		c, err = c.Select(inv.Cases)
		if err != nil {
			return CLIResult{ExitCode: ExitInvalidInvocation}, err
		}
	}
	fingerprint, err := c.Fingerprint()
	if err != nil {
		return CLIResult{ExitCode: ExitInternalError}, fmt.Errorf("fingerprinting corpus: %w", err)
	}

	plan := inv.Mode.Plan(cfg)
	if err := plan.Validate(); err != nil {
		return CLIResult{ExitCode: ExitConfigError}, err
	}
	list := filterChecks(checks.Enumerate(c, plan), inv.Filter)
	if len(list) == 0 {
		logger.Warn("no checks selected",
			zap.String("mode", string(inv.Mode)),
			zap.String("filter", inv.Filter),
			zap.Int("cases", len(c.Cases)),
		)
	}

	temps := core.NewTempRegistry(cfg.TempDir)
	defer func() {
		if err := temps.Cleanup(); err != nil {
			logger.Warn("removing temporary artifacts", zap.Error(err))
		}
	}()

	recorder := report.NewRecorder()
	metrics := report.NewMetrics()

	logger.Info("running checks",
		zap.String("mode", string(inv.Mode)),
		zap.Int("checks", len(list)),
		zap.Int("cases", len(c.Cases)),
		zap.Int("concurrency", cfg.Concurrency),
	)
	start := time.Now()
	runRes, err := suite.Run(ctx, list, newRunner(cfg, temps, logger), report.Fanout{recorder, metrics}, cfg.Concurrency)
	elapsed := time.Since(start)
	if err != nil {
		return CLIResult{ExitCode: ExitInternalError}, err
	}

	rep := recorder.Report(fingerprint)
	res = CLIResult{ExitCode: ExitSuccess, Run: runRes, Report: &rep}
	status := report.StatusPassed
	if _, failed := runRes.Counts(); failed > 0 {
		res.ExitCode = ExitChecksFailed
		status = report.StatusFailed
	}
	printSummary(out, runRes, elapsed)

	if inv.MetricsFile != "" {
		metrics.RunDuration.Set(elapsed.Seconds())
		if err := metrics.WriteTextfile(inv.MetricsFile); err != nil {
			return CLIResult{ExitCode: ExitInternalError, Run: runRes, Report: &rep}, fmt.Errorf("writing metrics: %w", err)
		}
	}

	if inv.ReportDir != "" {
		store, err := report.NewStore(inv.ReportDir)
		if err != nil {
			return CLIResult{ExitCode: ExitInternalError, Run: runRes, Report: &rep}, err
		}
		saved, err := store.Save(report.Run{
			RunID:           report.NewRunID(),
			StartTime:       start.UTC(),
			DurationSeconds: elapsed.Seconds(),
			Compiler:        cfg.Compiler,
			CorpusDir:       cfg.CorpusDir,
			Mode:            string(inv.Mode),
			Status:          status,
			ReportFormat:    inv.ReportFormat,
		}, rep)
		if err != nil {
			return CLIResult{ExitCode: ExitInternalError, Run: runRes, Report: &rep}, fmt.Errorf("saving report: %w", err)
		}
		res.SavedRun = &saved
		fmt.Fprintf(out, "report: %s\n", store.ReportPath(saved.RunID, saved.ReportFormat))
	}

	return res, nil
}

// NewLogger builds the production logger, at debug level when verbose.
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// newRunner wires one executor, compile stage and oracle from cfg.
func newRunner(cfg config.Config, temps *core.TempRegistry, logger *zap.Logger) *checks.Runner {
	executor := core.NewExecutor()
	executor.KillGrace = cfg.KillGrace
	executor.OutputLimit = cfg.OutputLimit
	executor.Logger = logger.Named("exec")

	stage := compile.NewStage(cfg.Compiler, executor, temps)
	stage.Timeout = cfg.CompileTimeout
	stage.ExtraFlags = cfg.ExtraFlags
	stage.DebugMask = cfg.DebugMask
	stage.Logger = logger.Named("compile")

	o := oracle.New(executor)
	o.Timeout = cfg.RunTimeout
	o.Logger = logger.Named("oracle")
	if n, err := core.NormalizerFor(cfg.OutputCompare); err == nil {
		o.Normalizer = n
	}

	r := checks.NewRunner(stage, o)
	r.AcceptMarker = cfg.AcceptMarker
	r.RejectMarker = cfg.RejectMarker
	r.Logger = logger.Named("checks")
	return r
}

func filterChecks(list []checks.Check, filter string) []checks.Check {
	if filter == "" {
		return list
	}
	var out []checks.Check
	for _, c := range list {
		if strings.Contains(c.ID, filter) {
			out = append(out, c)
		}
	}
	return out
}
