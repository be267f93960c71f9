package api

import (
	"errors"
	"fmt"
	"time"
)

// Failure classification drives the step executor's retry behavior.
// Validation and fast failures are terminal on first sight; invocation and
// timeout failures are retryable up to the step's retry policy.

// ValidationError reports a malformed step definition, an unresolvable
// variable reference, or a bad condition expression. It is fatal to the
// affected step and never retried.
type ValidationError struct {
	StepID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.StepID == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("step %s: validation: %s", e.StepID, e.Reason)
}

// NewValidationError builds a ValidationError for the given step.
func NewValidationError(stepID, format string, args ...any) error {
	return &ValidationError{StepID: stepID, Reason: fmt.Sprintf(format, args...)}
}

// FastFailError reports a failure class that must never be retried
// regardless of the configured retry policy: command not found (127),
// command not executable (126), or a capability reporting a non-retryable
// condition.
type FastFailError struct {
	StepID   string
	ExitCode int
	Reason   string
}

func (e *FastFailError) Error() string {
	return fmt.Sprintf("step %s: %s (exit %d)", e.StepID, e.Reason, e.ExitCode)
}

// InvocationError reports a retryable invocation failure: a non-zero exit
// code, a non-fatal signal, or an opaque capability error.
type InvocationError struct {
	StepID   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("step %s: invocation failed", e.StepID)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// TimeoutError reports that a step's invocation exceeded its timeout.
// It is retryable and counts against the same max_attempts budget.
type TimeoutError struct {
	StepID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %s: timed out after %s", e.StepID, e.Timeout)
}

// IsRetryable reports whether err may be retried under a step's retry
// policy. Validation and fast failures are never retryable.
func IsRetryable(err error) bool {
	var ve *ValidationError
	var fe *FastFailError
	if errors.As(err, &ve) || errors.As(err, &fe) {
		return false
	}
	var ie *InvocationError
	var te *TimeoutError
	return errors.As(err, &ie) || errors.As(err, &te)
}
