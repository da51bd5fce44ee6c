// Package proc runs external processes behind an interface so callers can
// substitute fakes in tests.
package proc

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// WaitDelay bounds how long Run waits for output pipes to close after the
// process group has been killed.
const WaitDelay = 2 * time.Second

// ErrNoCommand is returned when argv is empty.
var ErrNoCommand = errors.New("no command given")

// CommandRunner abstracts running external commands so tests can inject fakes.
//
// exitCode is the process exit status when the process ran, or -1 when it
// could not be started or was killed by a signal. err is nil only for a zero
// exit.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string, env []string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error)
}

// RealCommandRunner runs commands using os/exec. Each command gets its own
// process group, and cancelling ctx kills the whole group so children started
// by a shell do not outlive it.
type RealCommandRunner struct{}

func (r *RealCommandRunner) Run(ctx context.Context, dir string, argv []string, env []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = WaitDelay
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
			return status.ExitStatus(), err
		}
	}
	// start failure, signal or context cancellation
	return -1, err
}

// Started reports whether err came from a process that actually ran, as
// opposed to one that could not be launched.
func Started(err error) bool {
	var exitErr *exec.ExitError
	return err == nil || errors.As(err, &exitErr)
}
