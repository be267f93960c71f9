// Package shellexec runs bash step commands in a subprocess with
// cancellation, timeout and output capping.
package shellexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/simmerhq/simmer/pkg/api"
)

// killGracePeriod is how long a terminated process gets between SIGTERM and
// SIGKILL.
const killGracePeriod = 3 * time.Second

// Runner executes shell commands and implements api.ShellRunner.
type Runner struct {
	// DefaultShell is used when a request does not name a shell.
	// Defaults to "/bin/sh".
	DefaultShell string
}

var _ api.ShellRunner = (*Runner)(nil)

// NewRunner creates a Runner with default settings.
func NewRunner() *Runner {
	return &Runner{DefaultShell: api.DefaultShell}
}

// Run executes the command under `shell -c`. The process runs in its own
// process group so that the whole tree can be terminated on cancellation or
// timeout: SIGTERM first, SIGKILL after a grace period.
//
// A timeout or cancellation returns the partial result together with an
// error satisfying errors.Is(err, context.DeadlineExceeded) or
// context.Canceled. A nonzero exit is NOT an error here; the caller decides
// what a nonzero exit means.
func (r *Runner) Run(ctx context.Context, req api.ShellRequest) (api.ShellResult, error) {
	shell := req.Shell
	if shell == "" {
		shell = r.DefaultShell
	}
	if shell == "" {
		shell = api.DefaultShell
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// Not exec.CommandContext: cancellation is handled manually so the
	// process group gets SIGTERM before SIGKILL.
	cmd := exec.Command(shell, "-c", req.Command)

	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}

	cmd.Env = os.Environ()
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout := newCappedBuffer(int64(req.MaxOutputSize))
	stderr := newCappedBuffer(int64(req.MaxOutputSize))
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return api.ShellResult{}, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var exitCode int
	var execErr error

	select {
	case <-ctx.Done():
		r.killGroup(cmd, done)
		exitCode = -1
		execErr = ctx.Err()

	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
				execErr = err
			}
		}
	}

	result := api.ShellResult{
		ExitCode:        exitCode,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Duration:        time.Since(start),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}
	return result, execErr
}

// killGroup terminates the whole process group: SIGTERM, then SIGKILL after
// the grace period if the process has not exited.
func (r *Runner) killGroup(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(killGracePeriod):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
}
