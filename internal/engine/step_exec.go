package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/simmerhq/simmer/internal/modelmatch"
	"github.com/simmerhq/simmer/internal/vars"
	"github.com/simmerhq/simmer/pkg/api"
)

// errAborted signals that the session context was cancelled while the
// instance was in flight. The instance records no outcome and the step stays
// pending for a later resume.
var errAborted = errors.New("session aborted")

// executeInstance runs one step instance through its attempt loop and
// returns the terminal outcome, the value to bind, and the agent session
// handle if any. A nil outcome means the session was aborted mid-instance.
func (r *run) executeInstance(ctx context.Context, step *api.Step, overlay map[string]any, iteration int) (*api.StepOutcome, any, string) {
	outcome := &api.StepOutcome{
		StepID:    step.ID,
		Kind:      step.Kind(),
		Iteration: iteration,
		StartedAt: time.Now(),
	}
	fail := func(err error) (*api.StepOutcome, any, string) {
		outcome.Status = api.StepFailed
		outcome.Error = err.Error()
		outcome.Duration = time.Since(outcome.StartedAt)
		return outcome, nil, ""
	}

	if iteration >= 0 {
		r.eng.observer.OnStepStart(ctx, r.sess, step.ID, iteration)
	}

	maxAttempts := step.MaxAttempts()
	var value any
	var handle string

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt

		var err error
		switch step.Kind() {
		case api.StepBash:
			value, err = r.attemptBash(ctx, step, overlay, outcome)
		case api.StepAgent:
			value, handle, err = r.attemptAgent(ctx, step, overlay, outcome)
		default:
			err = api.NewValidationError(step.ID, "unknown step type %q", step.Type)
		}

		if err == nil {
			outcome.Status = api.StepSucceeded
			outcome.Duration = time.Since(outcome.StartedAt)
			return outcome, value, handle
		}
		if errors.Is(err, errAborted) {
			return nil, nil, ""
		}
		if !api.IsRetryable(err) || attempt >= maxAttempts {
			return fail(err)
		}

		delay := backoffDelay(step.Retry, attempt)
		select {
		case <-ctx.Done():
			return nil, nil, ""
		case <-time.After(delay):
		}
	}
}

// attemptBash runs one bash attempt: substitute, preflight, dispatch,
// classify. The returned value is the bound output (stdout, possibly parsed).
func (r *run) attemptBash(ctx context.Context, step *api.Step, overlay map[string]any, outcome *api.StepOutcome) (any, error) {
	if r.eng.caps.Shell == nil {
		return nil, api.NewValidationError(step.ID, "%v", api.ErrNoCapability)
	}

	command, err := r.vars.Substitute(step.Command, overlay)
	if err != nil {
		return nil, api.NewValidationError(step.ID, "command: %v", err)
	}
	if strings.TrimSpace(command) == "" {
		return nil, api.NewValidationError(step.ID, "command is blank after substitution")
	}

	cwd, err := r.vars.Substitute(step.Cwd, overlay)
	if err != nil {
		return nil, api.NewValidationError(step.ID, "cwd: %v", err)
	}
	if cwd != "" {
		info, statErr := os.Stat(cwd)
		if statErr != nil || !info.IsDir() {
			return nil, api.NewValidationError(step.ID, "cwd %q is not a directory", cwd)
		}
	}

	env := make(map[string]string, len(step.Env))
	for k, v := range step.Env {
		sub, err := r.vars.Substitute(v, overlay)
		if err != nil {
			return nil, api.NewValidationError(step.ID, "env %s: %v", k, err)
		}
		env[k] = sub
	}

	shell := step.Shell
	if shell == "" {
		shell = r.eng.defaultShell
	}
	if _, err := exec.LookPath(shell); err != nil {
		return nil, api.NewValidationError(step.ID, "shell %q not found", shell)
	}

	timeout := time.Duration(step.EffectiveTimeout()) * time.Second

	res, runErr := r.eng.caps.Shell.Run(ctx, api.ShellRequest{
		Shell:         shell,
		Command:       command,
		Cwd:           cwd,
		Env:           env,
		Timeout:       timeout,
		MaxOutputSize: r.eng.maxOutputSize,
	})

	outcome.ExitCode = res.ExitCode
	outcome.Stdout = res.Stdout
	outcome.Stderr = res.Stderr
	outcome.StdoutTruncated = res.StdoutTruncated
	outcome.StderrTruncated = res.StderrTruncated

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, errAborted
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			return nil, &api.TimeoutError{StepID: step.ID, Timeout: timeout}
		}
		return nil, &api.InvocationError{StepID: step.ID, Err: runErr}
	}

	switch res.ExitCode {
	case 0:
	case 126, 127:
		reason := "command not found"
		if res.ExitCode == 126 {
			reason = "command not executable"
		}
		return nil, &api.FastFailError{StepID: step.ID, ExitCode: res.ExitCode, Reason: reason}
	default:
		return nil, &api.InvocationError{StepID: step.ID, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	return bindValue(step, strings.TrimSuffix(res.Stdout, "\n"), false)
}

// attemptAgent runs one agent attempt. The step timeout bounds the whole
// invocation.
func (r *run) attemptAgent(ctx context.Context, step *api.Step, overlay map[string]any, outcome *api.StepOutcome) (any, string, error) {
	invoker := r.eng.caps.Agent
	if invoker == nil {
		return nil, "", api.NewValidationError(step.ID, "%v", api.ErrNoCapability)
	}

	prompt, err := r.vars.Substitute(step.Prompt, overlay)
	if err != nil {
		return nil, "", api.NewValidationError(step.ID, "prompt: %v", err)
	}
	agent, err := r.vars.Substitute(step.Agent, overlay)
	if err != nil {
		return nil, "", api.NewValidationError(step.ID, "agent: %v", err)
	}
	model, err := r.vars.Substitute(step.Model, overlay)
	if err != nil {
		return nil, "", api.NewValidationError(step.ID, "model: %v", err)
	}

	if modelmatch.IsPattern(model) {
		if lister, ok := invoker.(api.ModelLister); ok {
			available, listErr := lister.AvailableModels(ctx)
			if listErr != nil {
				return nil, "", &api.InvocationError{StepID: step.ID, Err: fmt.Errorf("listing models: %w", listErr)}
			}
			model = modelmatch.Resolve(model, available)
		}
	}

	timeout := time.Duration(step.EffectiveTimeout()) * time.Second
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, invErr := invoker.Invoke(ictx, api.AgentRequest{
		Agent:  agent,
		Prompt: prompt,
		Model:  model,
	})
	if invErr != nil {
		if ctx.Err() != nil {
			return nil, "", errAborted
		}
		if errors.Is(invErr, context.DeadlineExceeded) {
			return nil, "", &api.TimeoutError{StepID: step.ID, Timeout: timeout}
		}
		return nil, "", &api.InvocationError{StepID: step.ID, Err: invErr}
	}

	outcome.Stdout = res.Text

	value, err := bindValue(step, res.Text, true)
	if err != nil {
		return nil, "", err
	}
	return value, res.SessionHandle, nil
}

// bindValue applies the parse_json policy to a raw result. Agent results are
// auto-detected by default; bash stdout stays a string unless parse_json is
// set.
func bindValue(step *api.Step, raw string, autoDetect bool) (any, error) {
	if step.ParseJSON != nil {
		if !*step.ParseJSON {
			return raw, nil
		}
		value, err := vars.ParseJSONValue(raw)
		if err != nil {
			return nil, api.NewValidationError(step.ID, "output is not valid JSON: %v", err)
		}
		return value, nil
	}
	if autoDetect {
		value, _ := vars.ParseOutputValue(raw)
		return value, nil
	}
	return raw, nil
}

// backoffDelay computes the sleep before the next attempt. attempt is the
// 1-based attempt that just failed.
func backoffDelay(spec *api.RetrySpec, attempt int) time.Duration {
	initial := api.DefaultInitialDelay
	max := api.DefaultMaxDelay
	kind := api.BackoffExponential
	if spec != nil {
		if spec.InitialDelay > 0 {
			initial = spec.InitialDelay
		}
		if spec.MaxDelay > 0 {
			max = spec.MaxDelay
		}
		if spec.Backoff != "" {
			kind = spec.Backoff
		}
	}

	var seconds float64
	switch kind {
	case api.BackoffLinear:
		seconds = initial * float64(attempt)
	default:
		seconds = initial * math.Pow(2, float64(attempt-1))
	}
	if seconds > max {
		seconds = max
	}
	return time.Duration(seconds * float64(time.Second))
}
