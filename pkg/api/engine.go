package api

import (
	"context"
	"errors"
)

// ErrNoCapability is returned when a step's kind has no configured
// capability to dispatch to.
var ErrNoCapability = errors.New("no capability configured for step kind")

// Engine is the high-level recipe engine API. The engine itself is
// stateless between calls; all session state lives in the configured
// stores, keyed by session id.
type Engine interface {
	// RegisterRecipe registers a parsed recipe by name.
	RegisterRecipe(r *Recipe) error

	// Run creates a new session for the named recipe and runs its graph to
	// a terminal status. The initial mapping is merged over the recipe's
	// declared context. Cancelling ctx aborts the session: in-flight
	// invocations are terminated and non-terminal steps stay pending for a
	// later Resume.
	Run(ctx context.Context, recipeName string, initial map[string]any) (*Session, error)

	// GetSession looks up a session by id.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions matching the given options.
	// If options are zero-valued, all sessions are returned.
	ListSessions(ctx context.Context, opts SessionListOptions) ([]*Session, error)

	// Resume reloads the latest checkpoint of a FAILED, PARTIAL or ABORTED
	// session and re-enters the graph. Succeeded and skipped steps are not
	// re-run; failed steps run again, and a step interrupted mid-flight
	// restarts from pending, so resumption is safe only for idempotent
	// steps or when the operator accepts at-least-once semantics.
	Resume(ctx context.Context, id string) (*Session, error)

	// DeleteSession removes a session, its checkpoints, and its history.
	DeleteSession(ctx context.Context, id string) error
}
