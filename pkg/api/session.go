package api

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	// StatusPartial means a step's skip_remaining policy ended the session
	// early; completed work is kept and the remainder was skipped.
	StatusPartial Status = "PARTIAL"
	// StatusAborted means the session was cancelled; non-terminal steps
	// stay pending and the session can be resumed.
	StatusAborted Status = "ABORTED"
)

// StepStatus represents the state machine of one step instance:
// pending -> ready -> running -> {succeeded | failed | skipped}.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether the status is final.
func (s StepStatus) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// StepOutcome records the result of one execution of a step, scoped to a
// loop iteration when inside a foreach. Iteration is -1 outside loops.
type StepOutcome struct {
	StepID    string     `json:"step_id"`
	Kind      StepKind   `json:"kind"`
	Iteration int        `json:"iteration"`
	Status    StepStatus `json:"status"`
	Attempts  int        `json:"attempts"`

	ExitCode int    `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`

	StdoutTruncated bool `json:"stdout_truncated,omitempty"`
	StderrTruncated bool `json:"stderr_truncated,omitempty"`

	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// OutcomeKey identifies a step instance inside a session's outcome map.
// Non-loop instances use the bare step id.
func OutcomeKey(stepID string, iteration int) string {
	if iteration < 0 {
		return stepID
	}
	return fmt.Sprintf("%s#%d", stepID, iteration)
}

// Session is the top-level ownership unit: one context, one recipe graph,
// the outcome map, and a monotonically increasing checkpoint sequence.
// It is the unit of resume.
type Session struct {
	ID         string                  `json:"id"`
	RecipeName string                  `json:"recipe_name"`
	Status     Status                  `json:"status"`
	Context    map[string]any          `json:"context"`
	Outcomes   map[string]*StepOutcome `json:"outcomes"`
	Seq        int64                   `json:"seq"`
	Err        string                  `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionListOptions controls how sessions are listed.
// Zero values mean "no filter" for that field.
type SessionListOptions struct {
	// RecipeName, if non-empty, limits results to sessions of that recipe.
	RecipeName string

	// Status, if non-empty, limits results to sessions with that status.
	Status Status
}
