package api

import (
	"context"
	"time"
)

// AgentRequest is the payload handed to the agent capability. The engine
// never inspects what the invoked system does with it.
type AgentRequest struct {
	Agent  string
	Prompt string
	Model  string
}

// AgentResult is the fixed result shape of an agent invocation. Text is the
// primary result; SessionHandle is ancillary metadata the engine stores
// under a derived context key, never inside the bound value.
type AgentResult struct {
	Text          string
	SessionHandle string
}

// AgentInvoker is the opaque agent-invocation capability.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (AgentResult, error)
}

// ModelLister is optionally implemented by agent invokers that can
// enumerate available models, enabling glob-pattern model hints.
type ModelLister interface {
	AvailableModels(ctx context.Context) ([]string, error)
}

// ShellRequest describes one shell invocation.
type ShellRequest struct {
	Shell   string
	Command string
	Cwd     string
	Env     map[string]string
	Timeout time.Duration

	// MaxOutputSize caps each captured stream in bytes; 0 means unlimited.
	MaxOutputSize int
}

// ShellResult captures a finished shell invocation. Stdout and stderr are
// independent streams; interleaving order between them is not preserved.
type ShellResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	StdoutTruncated bool
	StderrTruncated bool
}

// ShellRunner is the shell-invocation capability.
type ShellRunner interface {
	Run(ctx context.Context, req ShellRequest) (ShellResult, error)
}

// Capabilities bundles the collaborators the engine dispatches steps to.
// A nil capability makes steps of that kind fail with a ValidationError.
type Capabilities struct {
	Agent AgentInvoker
	Shell ShellRunner
}
