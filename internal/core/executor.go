package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

const (
	// DefaultKillGrace is how long a timed-out process group is given to exit
	// after SIGTERM before it is sent SIGKILL.
	DefaultKillGrace = 500 * time.Millisecond

	// DefaultOutputLimit caps each captured stream.
	DefaultOutputLimit = 16 << 20
)

// Environment describes the environment of a child process.
//
// By default Vars are layered over the inherited environment. When Replace
// is set the child sees only Vars; nothing is inherited.
type Environment struct {
	Vars    map[string]string
	Replace bool
}

// Inherit returns an Environment that adds vars to the inherited environment.
func Inherit(vars map[string]string) Environment {
	return Environment{Vars: vars}
}

// Isolated returns an Environment containing only vars.
func Isolated(vars map[string]string) Environment {
	return Environment{Vars: vars, Replace: true}
}

// build renders the environment for exec.Cmd.Env.
// Keys are emitted in sorted order; overridden inherited keys are dropped.
func (e Environment) build(inherited []string) []string {
	keys := make([]string, 0, len(e.Vars))
	for k := range e.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(inherited)+len(keys))
	if !e.Replace {
		for _, kv := range inherited {
			name, _, _ := strings.Cut(kv, "=")
			if _, overridden := e.Vars[name]; overridden {
				continue
			}
			out = append(out, kv)
		}
	}
	for _, k := range keys {
		out = append(out, k+"="+e.Vars[k])
	}
	return out
}

// Command is a fully specified child-process invocation.
type Command struct {
	// Path is the executable. It is not looked up in PATH.
	Path string

	Args []string

	Env Environment

	// Timeout bounds the wall-clock lifetime of the process. Required.
	Timeout time.Duration

	// Dir is the working directory; empty means the harness's own.
	Dir string
}

// String renders the command line shell-quoted, for logs and messages.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Path}, c.Args...)...)
}

// ProcessResult is the drained, immutable outcome of a Command.
type ProcessResult struct {
	// Exited is true when the process terminated via exit(2).
	Exited bool

	// ExitCode is the exit status, or -1 when the process did not exit normally.
	ExitCode int

	// Signal names the terminating signal when the process was killed.
	Signal string

	// TimedOut is true when the harness terminated the process because its
	// timeout elapsed.
	TimedOut bool

	Stdout []byte
	Stderr []byte

	// StdoutTruncated/StderrTruncated report that the stream exceeded the
	// executor's OutputLimit and the excess was discarded.
	StdoutTruncated bool
	StderrTruncated bool

	Duration time.Duration
}

// Success reports a normal exit with status 0.
func (r *ProcessResult) Success() bool {
	return r != nil && !r.TimedOut && r.Exited && r.ExitCode == 0
}

// StdoutLines returns stdout split into lines. Each call returns a fresh copy.
func (r *ProcessResult) StdoutLines() []string { return splitLines(r.Stdout) }

// StderrLines returns stderr split into lines. Each call returns a fresh copy.
func (r *ProcessResult) StderrLines() []string { return splitLines(r.Stderr) }

// Executor runs child processes under a wall-clock bound.
type Executor struct {
	// KillGrace is the delay between SIGTERM and SIGKILL on timeout.
	KillGrace time.Duration

	// OutputLimit caps each captured stream in bytes; <= 0 means unlimited.
	OutputLimit int64

	Logger *zap.Logger
}

// NewExecutor creates an Executor with default grace and output limit.
func NewExecutor() *Executor {
	return &Executor{
		KillGrace:   DefaultKillGrace,
		OutputLimit: DefaultOutputLimit,
		Logger:      zap.NewNop(),
	}
}

// Run starts c and blocks until it exits, its timeout elapses, or ctx is
// cancelled.
//
// A timeout is not an error: the process group is terminated and reaped and
// the result has TimedOut set. A process that cannot be started yields a
// *LaunchError. Cancellation terminates the process and returns ctx.Err()
// wrapped.
func (e *Executor) Run(ctx context.Context, c Command) (*ProcessResult, error) {
	if c.Path == "" {
		return nil, errors.New("command path is empty")
	}
	if c.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env.build(os.Environ())
	setupProcessGroup(cmd)

	stdout := &cappedBuffer{limit: e.OutputLimit}
	stderr := &cappedBuffer{limit: e.OutputLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Bounds the pipe drain when a grandchild keeps stdout open after the
	// child itself has exited.
	cmd.WaitDelay = e.killGrace()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: c.Path, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		waitErr = e.terminate(cmd, done)
	case <-ctx.Done():
		_ = e.terminate(cmd, done)
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	}

	res := &ProcessResult{
		TimedOut:        timedOut,
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
		Duration:        time.Since(start),
	}
	if err := fillExitStatus(res, cmd, waitErr); err != nil {
		return nil, err
	}

	e.logger().Debug("process finished",
		zap.String("cmd", c.String()),
		zap.Duration("duration", res.Duration),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int("exit_code", res.ExitCode),
		zap.String("signal", res.Signal),
		zap.String("stdout", humanize.Bytes(uint64(len(res.Stdout)))),
		zap.String("stderr", humanize.Bytes(uint64(len(res.Stderr)))),
	)
	if res.StdoutTruncated || res.StderrTruncated {
		e.logger().Warn("process output truncated",
			zap.String("cmd", c.String()),
			zap.String("limit", humanize.Bytes(uint64(e.OutputLimit))),
		)
	}
	return res, nil
}

// terminate asks the process group to exit, escalates to SIGKILL after the
// grace period and always reaps the child.
func (e *Executor) terminate(cmd *exec.Cmd, done <-chan error) error {
	_ = signalGroup(cmd, sigTerm)

	grace := time.NewTimer(e.killGrace())
	defer grace.Stop()
	select {
	case err := <-done:
		// The leader is gone; make sure nothing it spawned survives it.
		_ = signalGroup(cmd, sigKill)
		return err
	case <-grace.C:
	}

	_ = signalGroup(cmd, sigKill)
	return <-done
}

func (e *Executor) killGrace() time.Duration {
	if e.KillGrace <= 0 {
		return DefaultKillGrace
	}
	return e.KillGrace
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// fillExitStatus records how the process terminated. Wait errors other than
// a non-zero exit or an expired WaitDelay are returned.
func fillExitStatus(res *ProcessResult, cmd *exec.Cmd, waitErr error) error {
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			return fmt.Errorf("waiting for %s: %w", cmd.Path, waitErr)
		}
	}
	state := cmd.ProcessState
	if state == nil {
		return fmt.Errorf("waiting for %s: no process state", cmd.Path)
	}

	res.ExitCode = -1
	if sig, ok := terminatingSignal(state); ok {
		res.Signal = sig
		return nil
	}
	res.Exited = state.Exited()
	if res.Exited {
		res.ExitCode = state.ExitCode()
	}
	return nil
}

// cappedBuffer keeps at most limit bytes and silently discards the rest so the
// child never sees a write error.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - int64(b.buf.Len())
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

// Bytes returns a copy of the captured data.
func (b *cappedBuffer) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// splitLines splits on \n, \r\n and \r. A trailing terminator does not
// produce an empty final line.
func splitLines(b []byte) []string {
	if len(b) == 0 {
		return []string{}
	}
	var out []string
	start := 0
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\n':
			out = append(out, string(b[start:i]))
			start = i + 1
		case '\r':
			out = append(out, string(b[start:i]))
			if i+1 < len(b) && b[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}
