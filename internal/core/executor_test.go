package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string, timeout time.Duration) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}, Timeout: timeout}
}

func newTestExecutor() *Executor {
	e := NewExecutor()
	e.KillGrace = 100 * time.Millisecond
	return e
}

// TestRun_InheritedEnvPlusOverrides verifies overrides are layered over the
// inherited environment.
func TestRun_InheritedEnvPlusOverrides(t *testing.T) {
	t.Setenv("UNROLLCHECK_HOST_VAR", "from-host")
	t.Setenv("DUFF_FACTOR", "99")

	cmd := shell(`echo "HOST=$UNROLLCHECK_HOST_VAR FACTOR=$DUFF_FACTOR"`, 5*time.Second)
	cmd.Env = Inherit(map[string]string{"DUFF_FACTOR": "7"})

	res, err := newTestExecutor().Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "HOST=from-host FACTOR=7\n", string(res.Stdout))
	assert.True(t, res.Success())
}

// TestRun_IsolatedEnvHidesHostVariables verifies Replace drops the inherited
// environment entirely.
func TestRun_IsolatedEnvHidesHostVariables(t *testing.T) {
	t.Setenv("DUFF_FACTOR", "8")

	cmd := shell(`echo "FACTOR=${DUFF_FACTOR:-unset} MASK=$FIRMDBG"`, 5*time.Second)
	cmd.Env = Isolated(map[string]string{"FIRMDBG": "setmask firm.opt.loop-unrolling -1"})

	res, err := newTestExecutor().Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "FACTOR=unset MASK=setmask firm.opt.loop-unrolling -1\n", string(res.Stdout))
}

func TestEnvironmentBuild_SortedAndOverridden(t *testing.T) {
	env := Inherit(map[string]string{"B": "2", "A": "1"})
	got := env.build([]string{"A=old", "PATH=/bin"})
	assert.Equal(t, []string{"PATH=/bin", "A=1", "B=2"}, got)

	isolated := Isolated(nil)
	assert.Empty(t, isolated.build([]string{"PATH=/bin"}))
}

func TestRun_CapturesExitCodeAndStreams(t *testing.T) {
	res, err := newTestExecutor().Run(context.Background(), shell(`echo out; echo err >&2; exit 3`, 5*time.Second))
	require.NoError(t, err)

	assert.True(t, res.Exited)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Success())
	assert.Equal(t, []string{"out"}, res.StdoutLines())
	assert.Equal(t, []string{"err"}, res.StderrLines())
}

// TestRun_TimeoutTerminatesAndReaps verifies a hanging process is killed,
// reaped and reported as TimedOut without an error.
func TestRun_TimeoutTerminatesAndReaps(t *testing.T) {
	start := time.Now()
	res, err := newTestExecutor().Run(context.Background(), shell(`echo started; while :; do :; done`, 300*time.Millisecond))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Exited)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "SIGTERM", res.Signal)
	assert.Equal(t, "started\n", string(res.Stdout))
	assert.Less(t, elapsed, 5*time.Second)
}

// TestRun_TimeoutEscalatesToKill verifies SIGKILL follows when SIGTERM is ignored.
func TestRun_TimeoutEscalatesToKill(t *testing.T) {
	res, err := newTestExecutor().Run(context.Background(), shell(`trap '' TERM; while :; do :; done`, 200*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, "SIGKILL", res.Signal)
}

// TestRun_TimeoutKillsGrandchildren verifies the whole process group is
// terminated, so a backgrounded child holding stdout cannot stall the reap.
func TestRun_TimeoutKillsGrandchildren(t *testing.T) {
	start := time.Now()
	res, err := newTestExecutor().Run(context.Background(), shell(`(while :; do :; done) & while :; do :; done`, 200*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_SignalledProcessHasNoExitCode(t *testing.T) {
	res, err := newTestExecutor().Run(context.Background(), shell(`kill -USR1 $$`, 5*time.Second))
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Exited)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "SIGUSR1", res.Signal)
}

func TestRun_LaunchFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-compiler")
	_, err := newTestExecutor().Run(context.Background(), Command{Path: missing, Timeout: time.Second})
	require.Error(t, err)

	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Equal(t, missing, launchErr.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, CategoryInfra, Category(err))
}

func TestRun_RejectsInvalidCommands(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Run(context.Background(), Command{Timeout: time.Second})
	assert.Error(t, err)

	_, err = e.Run(context.Background(), Command{Path: "/bin/sh"})
	assert.Error(t, err)
}

// TestRun_ContextCancellation verifies cancellation kills the process promptly.
func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := newTestExecutor().Run(ctx, shell(`while :; do :; done`, time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_OutputLimitTruncates(t *testing.T) {
	e := newTestExecutor()
	e.OutputLimit = 4

	res, err := e.Run(context.Background(), shell(`printf 'abcdefgh'`, 5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(res.Stdout))
	assert.True(t, res.StdoutTruncated)
	assert.True(t, res.Success())
}

// TestProcessResult_LinesAreReusable verifies the drained buffer can be
// consumed any number of times.
func TestProcessResult_LinesAreReusable(t *testing.T) {
	res := &ProcessResult{Stdout: []byte("a\r\nb\rc\n")}

	first := res.StdoutLines()
	first[0] = "mutated"
	assert.Equal(t, []string{"a", "b", "c"}, res.StdoutLines())
	assert.Empty(t, (&ProcessResult{}).StderrLines())
}

func TestMakeExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o600))
	require.NoError(t, MakeExecutable(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, ExecutableMode, info.Mode().Perm())

	res, err := newTestExecutor().Run(context.Background(), Command{Path: path, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "hi", strings.TrimSpace(string(res.Stdout)))
}
