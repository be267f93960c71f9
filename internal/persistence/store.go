// Package persistence provides storage for sessions, checkpoints and session
// history, with in-memory and SQLite implementations.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/simmerhq/simmer/pkg/api"
)

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCheckpointNotFound is returned when a session has no checkpoint.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// Checkpoint is a durable snapshot of one session's progress: the full
// context mapping plus every step outcome recorded so far. Seq increases
// monotonically within a session; the highest Seq is the resume point.
type Checkpoint struct {
	SessionID string                      `json:"session_id"`
	Seq       int64                       `json:"seq"`
	Context   map[string]any              `json:"context"`
	Outcomes  map[string]*api.StepOutcome `json:"outcomes"`
	TakenAt   time.Time                   `json:"taken_at"`
}

// SessionFilter selects sessions from the store.
// Empty string / zero status mean "no filter" for that field.
type SessionFilter struct {
	RecipeName string
	Status     api.Status
}

// SessionStore handles storage of sessions and their checkpoints.
//
// Implementations must return copies or otherwise ensure the caller cannot
// observe later mutations through a previously returned session.
type SessionStore interface {
	SaveSession(ctx context.Context, sess *api.Session) error
	UpdateSession(ctx context.Context, sess *api.Session) error
	GetSession(ctx context.Context, id string) (*api.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error)
	// DeleteSession removes the session and all its checkpoints.
	// Deleting an unknown session returns ErrSessionNotFound.
	DeleteSession(ctx context.Context, id string) error

	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	// LatestCheckpoint returns the checkpoint with the highest Seq for the
	// session, or ErrCheckpointNotFound if none has been taken.
	LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)
}

// EventStore is an append-only history of session events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.SessionEvent) error
	ListEvents(ctx context.Context, sessionID string) ([]api.SessionEvent, error)
}
