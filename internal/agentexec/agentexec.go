// Package agentexec invokes an agent through an external command.
//
// The contract with the command is deliberately small: the prompt arrives on
// stdin, the agent and model names arrive in SIMMER_AGENT and SIMMER_MODEL
// environment variables, and the reply is read from stdout. If the final
// stdout line is a JSON object with a "session_id" field it is stripped from
// the reply and surfaced as the session handle, so conversational agents can
// be continued across steps.
package agentexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/simmerhq/simmer/pkg/api"
)

const killGracePeriod = 3 * time.Second

// ExitError reports a nonzero exit from the agent command.
type ExitError struct {
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("agent command exited with code %d", e.ExitCode)
}

// CommandInvoker implements api.AgentInvoker by running an external command
// per invocation.
type CommandInvoker struct {
	// Argv is the command and its fixed arguments, e.g. ["claude", "-p"].
	Argv []string
}

var _ api.AgentInvoker = (*CommandInvoker)(nil)

// NewCommandInvoker creates an invoker for the given command line.
func NewCommandInvoker(argv []string) (*CommandInvoker, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("agent command is empty")
	}
	return &CommandInvoker{Argv: argv}, nil
}

func (c *CommandInvoker) Invoke(ctx context.Context, req api.AgentRequest) (api.AgentResult, error) {
	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)

	cmd.Env = os.Environ()
	if req.Agent != "" {
		cmd.Env = append(cmd.Env, "SIMMER_AGENT="+req.Agent)
	}
	if req.Model != "" {
		cmd.Env = append(cmd.Env, "SIMMER_MODEL="+req.Model)
	}

	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return api.AgentResult{}, fmt.Errorf("starting agent command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		killGroup(cmd, done)
		return api.AgentResult{}, ctx.Err()

	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return api.AgentResult{}, &ExitError{
					ExitCode: exitErr.ExitCode(),
					Stderr:   stderr.String(),
				}
			}
			return api.AgentResult{}, err
		}
	}

	text, handle := splitSessionHandle(stdout.String())
	return api.AgentResult{Text: text, SessionHandle: handle}, nil
}

func killGroup(cmd *exec.Cmd, done <-chan error) {
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

// splitSessionHandle strips a trailing session envelope from the reply.
// The envelope is a single line holding a JSON object with a "session_id"
// string; anything else is left in the reply untouched.
func splitSessionHandle(out string) (text, handle string) {
	trimmed := strings.TrimRight(out, "\n")
	idx := strings.LastIndexByte(trimmed, '\n')
	lastLine := trimmed[idx+1:]

	if !strings.HasPrefix(lastLine, "{") {
		return out, ""
	}

	var envelope struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(lastLine), &envelope); err != nil || envelope.SessionID == "" {
		return out, ""
	}

	if idx < 0 {
		return "", envelope.SessionID
	}
	return trimmed[:idx], envelope.SessionID
}
