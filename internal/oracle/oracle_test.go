package oracle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"unrollcheck/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestOracle() *Oracle {
	e := core.NewExecutor()
	e.KillGrace = 100 * time.Millisecond
	o := New(e)
	o.Timeout = 500 * time.Millisecond
	return o
}

func program(t *testing.T, body string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "prog-*.out")
	require.NoError(t, err)
	_, err = f.WriteString("#!/bin/sh\n" + body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, core.MakeExecutable(f.Name()))
	return f.Name()
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name        string
		baseline    string
		transformed string
		kind        core.VerdictKind
		reason      core.DivergenceReason
	}{
		{name: "same output", baseline: "echo 42", transformed: "echo 42", kind: core.VerdictEquivalent},
		{name: "line breaks ignored", baseline: `printf 'a\nbc\n'`, transformed: `printf 'ab\r\nc'`, kind: core.VerdictEquivalent},
		{name: "both empty", baseline: "true", transformed: "exit 0", kind: core.VerdictEquivalent},
		{name: "output differs", baseline: "echo 12", transformed: "echo 13", kind: core.VerdictDivergent, reason: core.ReasonOutputMismatch},
		{name: "both hang", baseline: "while :; do :; done", transformed: "while :; do :; done", kind: core.VerdictEquivalent},
		{name: "only transformed hangs", baseline: "echo ok", transformed: "while :; do :; done", kind: core.VerdictDivergent, reason: core.ReasonTimeoutMismatch},
		{name: "only baseline hangs", baseline: "while :; do :; done", transformed: "exit 1", kind: core.VerdictDivergent, reason: core.ReasonTimeoutMismatch},
		{name: "exit codes differ", baseline: "exit 0", transformed: "exit 2", kind: core.VerdictDivergent, reason: core.ReasonExitCodeMismatch},
		{name: "equal non-zero ignores output", baseline: "echo a; exit 1", transformed: "echo b; exit 1", kind: core.VerdictEquivalent},
		{name: "crash against failure", baseline: "exit 3", transformed: "kill -USR1 $$", kind: core.VerdictDivergent, reason: core.ReasonExitCodeMismatch},
		{name: "crash against success", baseline: "echo 1", transformed: "kill -USR1 $$", kind: core.VerdictDivergent, reason: core.ReasonExitCodeMismatch},
		{name: "same crash", baseline: "kill -USR1 $$", transformed: "kill -USR1 $$", kind: core.VerdictEquivalent},
		{name: "different crash", baseline: "kill -USR1 $$", transformed: "kill -USR2 $$", kind: core.VerdictDivergent, reason: core.ReasonExitCodeMismatch},
	}

	o := newTestOracle()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := o.Compare(context.Background(), program(t, tt.baseline), program(t, tt.transformed))
			assert.Equal(t, tt.kind, v.Kind, v.Detail)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

// TestCompare_IsSymmetric verifies swapping the sides never changes the
// verdict kind or reason.
func TestCompare_IsSymmetric(t *testing.T) {
	o := newTestOracle()
	bodies := []string{"echo 1", "echo 2", "exit 4", "kill -USR1 $$", "while :; do :; done"}
	for _, a := range bodies {
		for _, b := range bodies {
			pa, pb := program(t, a), program(t, b)
			ab := o.Compare(context.Background(), pa, pb)
			ba := o.Compare(context.Background(), pb, pa)
			assert.Equal(t, ab.Kind, ba.Kind, "%q vs %q", a, b)
			assert.Equal(t, ab.Reason, ba.Reason, "%q vs %q", a, b)
		}
	}
}

func TestCompare_OutputMismatchDetail(t *testing.T) {
	v := newTestOracle().Compare(context.Background(), program(t, "echo 12"), program(t, "echo wrong-count"))
	require.Equal(t, core.ReasonOutputMismatch, v.Reason)

	assert.Equal(t, "12", v.Baseline.Output)
	assert.Equal(t, "wrong-count", v.Transformed.Output)
	assert.Contains(t, v.Detail, "baseline output length 2, transformed output length 11")
	assert.Contains(t, v.Detail, `"wrong-count"`)
	assert.Contains(t, v.Detail, "--- baseline")
	assert.Contains(t, v.Detail, "+++ transformed")
	assert.Contains(t, v.Detail, "-12")
	assert.Contains(t, v.Detail, "+wrong-count")

	err := core.VerdictError(v)
	assert.Equal(t, core.CategoryDivergence, core.Category(err))
	assert.Contains(t, err.Error(), "output-mismatch")
}

func TestCompare_OneSideFailingIsFlaggedInDetail(t *testing.T) {
	o := newTestOracle()

	v := o.Compare(context.Background(), program(t, "exit 0"), program(t, "kill -USR1 $$"))
	require.Equal(t, core.ReasonExitCodeMismatch, v.Reason)
	assert.Equal(t, "non-zero-exit-on-one-side: baseline exit 0, transformed killed by SIGUSR1", v.Detail)

	v = o.Compare(context.Background(), program(t, "exit 3"), program(t, "exit 2"))
	require.Equal(t, core.ReasonExitCodeMismatch, v.Reason)
	assert.Equal(t, "baseline exit 3, transformed exit 2", v.Detail)
}

func TestCompare_TruncatedOutput(t *testing.T) {
	o := newTestOracle()
	o.Executor.OutputLimit = 8

	tests := []struct {
		name        string
		baseline    string
		transformed string
		kind        core.VerdictKind
		reason      core.DivergenceReason
		cause       string
	}{
		{
			name:        "difference past the limit",
			baseline:    "echo AAAAAAAAsame-prefix-then-BASELINE",
			transformed: "echo AAAAAAAAsame-prefix-then-TRANSFORMED-longer",
			kind:        core.VerdictInconclusive,
			cause:       core.CauseOutputTruncated,
		},
		{
			name:        "one side truncated",
			baseline:    "echo AAAAAAA",
			transformed: "echo AAAAAAAAA-and-more",
			kind:        core.VerdictDivergent,
			reason:      core.ReasonOutputMismatch,
		},
		{
			name:        "difference inside the limit",
			baseline:    "echo AAAB-then-a-long-tail",
			transformed: "echo AAAC-then-a-long-tail",
			kind:        core.VerdictDivergent,
			reason:      core.ReasonOutputMismatch,
		},
		{
			name:        "short outputs",
			baseline:    "echo 42",
			transformed: "echo 42",
			kind:        core.VerdictEquivalent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := o.Compare(context.Background(), program(t, tt.baseline), program(t, tt.transformed))
			assert.Equal(t, tt.kind, v.Kind, v.Detail)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.cause, v.Cause)
		})
	}
}

func TestCompare_TruncatedOutputIsNotAPass(t *testing.T) {
	o := newTestOracle()
	o.Executor.OutputLimit = 8

	v := o.Compare(context.Background(),
		program(t, "echo AAAAAAAAsame-prefix-then-BASELINE"),
		program(t, "echo AAAAAAAAsame-prefix-then-TRANSFORMED-longer"))
	require.Equal(t, core.CauseOutputTruncated, v.Cause)
	assert.True(t, v.Baseline.Truncated)
	assert.True(t, v.Transformed.Truncated)
	assert.Equal(t, "AAAAAAAA", v.Baseline.Output)
	assert.Contains(t, v.Detail, "baseline and transformed stdout exceeded the 8 B output limit")

	err := core.VerdictError(v)
	require.Error(t, err)
	assert.Equal(t, core.CategoryInfra, core.Category(err))
}

func TestCompare_TimeoutsAreIndependent(t *testing.T) {
	o := newTestOracle()
	start := time.Now()
	v := o.Compare(context.Background(), program(t, "while :; do :; done"), program(t, "while :; do :; done"))
	assert.True(t, v.IsEquivalent())
	assert.True(t, v.Baseline.TimedOut)
	assert.True(t, v.Transformed.TimedOut)
	// Both sides run concurrently, so two timeouts cost roughly one.
	assert.Less(t, time.Since(start), 4*o.Timeout)
}

func TestCompare_LaunchFailureIsInconclusive(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.out")
	v := newTestOracle().Compare(context.Background(), program(t, "echo 1"), missing)

	assert.Equal(t, core.VerdictInconclusive, v.Kind)
	assert.Equal(t, core.CauseRunnerLaunchFailure, v.Cause)
	assert.Contains(t, v.Detail, missing)
	assert.Equal(t, core.CategoryInfra, core.Category(core.VerdictError(v)))
}

func TestClassify_RawNormalizerKeepsLineBreaks(t *testing.T) {
	o := newTestOracle()
	o.Normalizer = core.NewRawNormalizer()

	b := &core.ProcessResult{Exited: true, Stdout: []byte("ab\n")}
	tr := &core.ProcessResult{Exited: true, Stdout: []byte("a\nb")}
	assert.Equal(t, core.ReasonOutputMismatch, o.Classify(b, tr).Reason)

	o.Normalizer = nil
	assert.True(t, o.Classify(b, tr).IsEquivalent())
}
