package core

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	sigTerm = unix.SIGTERM
	sigKill = unix.SIGKILL
)

// ExecutableMode is applied to every produced binary: owner and world may
// read, write and execute it.
const ExecutableMode os.FileMode = 0o707

// setupProcessGroup runs the command in its own process group so that
// everything it spawns can be signalled together.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup delivers sig to the process group led by cmd.
// Signalling a group that no longer exists is not an error.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	// Fall back to the leader alone (e.g. EPERM on the group).
	if perr := cmd.Process.Signal(sig); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
		return perr
	}
	return nil
}

func terminatingSignal(state *os.ProcessState) (string, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return "", false
	}
	return unix.SignalName(ws.Signal()), true
}

// MakeExecutable sets ExecutableMode on path and verifies that the current
// user may execute it.
func MakeExecutable(path string) error {
	if err := os.Chmod(path, ExecutableMode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return fmt.Errorf("%s is not executable: %w", path, err)
	}
	return nil
}
