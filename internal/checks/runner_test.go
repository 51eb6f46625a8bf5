package checks

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unrollcheck/internal/compile"
	"unrollcheck/internal/compile/compiletest"
	"unrollcheck/internal/core"
	"unrollcheck/internal/corpus"
	"unrollcheck/internal/oracle"
)

type harness struct {
	runner *Runner
	temps  *core.TempRegistry
	corpus *corpus.Corpus
}

// newHarness wires a Runner to the fake compiler over a corpus built from
// sources (name -> body).
func newHarness(t *testing.T, sources map[string]string) *harness {
	t.Helper()
	srcDir := t.TempDir()
	for name, body := range sources {
		compiletest.WriteSource(t, srcDir, name, body)
	}
	c, err := corpus.Load(srcDir, corpus.Classifier{})
	require.NoError(t, err)

	executor := core.NewExecutor()
	executor.KillGrace = 100 * time.Millisecond
	temps := core.NewTempRegistry(t.TempDir())

	stage := compile.NewStage(compiletest.WriteCompiler(t, t.TempDir()), executor, temps)
	stage.Timeout = 2 * time.Second
	o := oracle.New(executor)
	o.Timeout = 400 * time.Millisecond

	return &harness{runner: NewRunner(stage, o), temps: temps, corpus: c}
}

func (h *harness) check(t *testing.T, kind Kind, name string, factor int) Check {
	t.Helper()
	tc, err := h.corpus.Find(name)
	require.NoError(t, err)
	return newCheck(kind, tc, factor)
}

func (h *harness) run(t *testing.T, kind Kind, name string, factor int) Result {
	t.Helper()
	res := h.runner.Run(context.Background(), h.check(t, kind, name, factor))
	assert.Empty(t, h.temps.Pending(), "artifacts leaked by %s", res.ID)
	return res
}

func TestRunner_AnswerIsEquivalent(t *testing.T) {
	h := newHarness(t, map[string]string{"answer.c": compiletest.Answer})

	res := h.run(t, KindCorrectness, "answer.c", 4)
	require.True(t, res.Passed(), res.Message)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, core.VerdictEquivalent, res.Verdict.Kind)
	assert.Equal(t, "correctness/factor_4-answer.c", res.ID)
	assert.Empty(t, res.Message)
	assert.Equal(t, core.CategoryNone, res.Category)
}

// TestRunner_OffByOneFactor verifies a miscompile that only shows at some
// factors is caught at exactly those factors.
func TestRunner_OffByOneFactor(t *testing.T) {
	h := newHarness(t, map[string]string{"count.c": compiletest.OffByOne})

	for _, f := range []int{4, 6} {
		res := h.run(t, KindSweep, "count.c", f)
		assert.True(t, res.Passed(), "factor %d: %s", f, res.Message)
	}

	res := h.run(t, KindSweep, "count.c", 5)
	require.False(t, res.Passed())
	assert.Equal(t, core.CategoryDivergence, res.Category)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, core.ReasonOutputMismatch, res.Verdict.Reason)
	assert.Contains(t, res.Message, "count.c (factor 5): divergence:")
	assert.Contains(t, res.Message, "wrong-count")
}

func TestRunner_SweepIsDeterministic(t *testing.T) {
	h := newHarness(t, map[string]string{"count.c": compiletest.OffByOne})
	plan := Plan{Sweep: true, Factors: core.FactorRange{Min: 2, Max: 32}}

	var failing []int
	for _, c := range Enumerate(h.corpus, plan) {
		res := h.runner.Run(context.Background(), c)
		if !res.Passed() {
			failing = append(failing, c.Factor)
		}
	}
	var want []int
	for f := 2; f < 32; f++ {
		if 12%f != 0 {
			want = append(want, f)
		}
	}
	assert.Equal(t, want, failing)
	assert.Empty(t, h.temps.Pending())
}

func TestRunner_TimeoutSymmetry(t *testing.T) {
	h := newHarness(t, map[string]string{
		"forever.c": compiletest.HangAlways,
		"late.c":    compiletest.HangWhenUnrolled,
	})

	res := h.run(t, KindCorrectness, "forever.c", 4)
	assert.True(t, res.Passed(), res.Message)
	assert.True(t, res.Verdict.Baseline.TimedOut)
	assert.True(t, res.Verdict.Transformed.TimedOut)

	res = h.run(t, KindCorrectness, "late.c", 4)
	require.False(t, res.Passed())
	assert.Equal(t, core.ReasonTimeoutMismatch, res.Verdict.Reason)
}

// TestRunner_NonZeroExitSkipsOutput verifies equal failing exit codes pass
// even though the printed output differs.
func TestRunner_NonZeroExitSkipsOutput(t *testing.T) {
	h := newHarness(t, map[string]string{"garbage.c": compiletest.FailWithGarbage})

	res := h.run(t, KindCorrectness, "garbage.c", 4)
	assert.True(t, res.Passed(), res.Message)
}

func TestRunner_ExitStatusDivergence(t *testing.T) {
	h := newHarness(t, map[string]string{
		"exit.c":  compiletest.ExitTwoWhenUnrolled,
		"crash.c": compiletest.CrashWhenUnrolled,
		"nl.c":    compiletest.LineBreaks,
	})

	res := h.run(t, KindCorrectness, "exit.c", 4)
	assert.Equal(t, core.ReasonExitCodeMismatch, res.Verdict.Reason)

	res = h.run(t, KindCorrectness, "crash.c", 4)
	assert.Equal(t, core.ReasonExitCodeMismatch, res.Verdict.Reason)
	assert.Equal(t, "baseline exit 3, transformed killed by SIGUSR1", res.Verdict.Detail)
	assert.Equal(t, core.CategoryDivergence, res.Category)

	res = h.run(t, KindCorrectness, "nl.c", 4)
	assert.True(t, res.Passed(), res.Message)
}

func TestRunner_CompileFailures(t *testing.T) {
	h := newHarness(t, map[string]string{
		"hang.c":   "# COMPILE_HANG_WHEN_UNROLLED\necho 1\n",
		"ice.c":    "# COMPILE_FAIL_WHEN_UNROLLED\necho 1\n",
		"broken.c": "# COMPILE_FAIL\n",
	})
	h.runner.Stage.Timeout = 300 * time.Millisecond

	res := h.run(t, KindSweep, "hang.c", 9)
	assert.Equal(t, core.CategoryFatalHang, res.Category)
	assert.Contains(t, res.Message, "hang.c (factor 9): fatal-hang: compiler ran into infinite loop")
	assert.Nil(t, res.Verdict)

	res = h.run(t, KindCorrectness, "ice.c", 4)
	assert.Equal(t, core.CategoryCompileRejected, res.Category)

	res = h.run(t, KindCorrectness, "broken.c", 4)
	assert.Equal(t, core.CategoryInfra, res.Category)
}

func TestRunner_Diagnostics(t *testing.T) {
	h := newHarness(t, map[string]string{
		"plain.c":          compiletest.Answer,
		"goto.invalid.c":   compiletest.Unrollable,
		"sneaky.invalid.c": compiletest.Answer,
		"surprise.c":       compiletest.Unrollable,
	})

	assert.True(t, h.run(t, KindAccept, "plain.c", 0).Passed())
	assert.True(t, h.run(t, KindReject, "goto.invalid.c", 0).Passed())

	res := h.run(t, KindReject, "sneaky.invalid.c", 0)
	assert.Equal(t, core.CategoryDiagnosticMismatch, res.Category)
	assert.Contains(t, res.Message, "sneaky.invalid.c: diagnostic-mismatch:")
	assert.Contains(t, res.Message, RejectMarker)

	res = h.run(t, KindAccept, "surprise.c", 0)
	assert.Equal(t, core.CategoryDiagnosticMismatch, res.Category)
}

// TestRunner_TruncatedDiagnosticsAreInfraFailures verifies a marker missing
// from a stderr cut off at the output limit is not read as a rejection.
func TestRunner_TruncatedDiagnosticsAreInfraFailures(t *testing.T) {
	h := newHarness(t, map[string]string{
		"plain.c":        compiletest.Answer,
		"goto.invalid.c": compiletest.Unrollable,
	})
	h.runner.Stage.Executor.OutputLimit = 6

	res := h.run(t, KindAccept, "plain.c", 0)
	require.False(t, res.Passed())
	assert.Equal(t, core.CategoryInfra, res.Category)
	assert.Contains(t, res.Message, "plain.c: infra: infrastructure failure (diagnostic-truncated)")

	res = h.run(t, KindReject, "goto.invalid.c", 0)
	assert.Equal(t, core.CategoryInfra, res.Category)
}

// TestRunner_ParallelChecksLeaveNoArtifacts verifies concurrent checks never
// collide on temp files and clean up everything they create.
func TestRunner_ParallelChecksLeaveNoArtifacts(t *testing.T) {
	h := newHarness(t, map[string]string{
		"answer.c":    compiletest.Answer,
		"count.c":     compiletest.OffByOne,
		"garbage.c":   compiletest.FailWithGarbage,
		"x.invalid.c": compiletest.Unrollable,
	})
	plan := DefaultPlan()
	plan.Sweep = true
	plan.Factors = core.FactorRange{Min: 2, Max: 8}
	checks := Enumerate(h.corpus, plan)

	exec, err := NewExecutor(checks, h.runner)
	require.NoError(t, err)
	res, err := exec.RunParallel(context.Background(), 4)
	require.NoError(t, err)

	require.Len(t, res.Results, len(checks))
	var failed []string
	for _, r := range res.Failures() {
		failed = append(failed, r.ID)
	}
	assert.Equal(t, []string{"sweep/factor_5-count.c", "sweep/factor_7-count.c"}, failed)

	assert.Empty(t, h.temps.Pending())
	entries, err := os.ReadDir(h.temps.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
