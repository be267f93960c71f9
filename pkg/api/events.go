package api

import "time"

// EventType identifies a session history event.
type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventSessionResumed   EventType = "session.resumed"
	EventSessionCompleted EventType = "session.completed"
	EventSessionPartial   EventType = "session.partial"
	EventSessionFailed    EventType = "session.failed"
	EventSessionAborted   EventType = "session.aborted"

	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"
)

// SessionEvent is a minimal append-only history record for audit/debugging.
// It is intentionally small and stable; richer history can be layered later.
type SessionEvent struct {
	SessionID string
	At        time.Time
	Type      EventType

	// Optional context.
	RecipeName string
	StepID     string
	Iteration  int

	// Small, human-oriented details (e.g. outcome, error string).
	// Keep this low-volume: do NOT dump large payloads here.
	Detail string
}
