// Package engine contains the session scheduler: it expands a recipe into
// step instances, dispatches them to capabilities in dependency order, and
// checkpoints progress after every terminal step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simmerhq/simmer/internal/persistence"
	"github.com/simmerhq/simmer/internal/vars"
	"github.com/simmerhq/simmer/pkg/api"
)

// Engine implements api.Engine. The engine itself is stateless between
// calls; all session state lives in the configured stores.
type Engine struct {
	mu      sync.RWMutex
	recipes map[string]*api.Recipe

	store    persistence.SessionStore
	events   persistence.EventStore
	caps     api.Capabilities
	observer api.Observer

	defaultShell  string
	maxOutputSize int
}

var _ api.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the engine observer. Multiple observers can be combined
// with api.NewCompositeObserver.
func WithObserver(o api.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithEventStore enables session history recording.
func WithEventStore(es persistence.EventStore) Option {
	return func(e *Engine) {
		if es != nil {
			e.events = es
		}
	}
}

// WithDefaultShell overrides the shell used by bash steps that do not name
// one.
func WithDefaultShell(shell string) Option {
	return func(e *Engine) {
		if shell != "" {
			e.defaultShell = shell
		}
	}
}

// WithMaxOutputSize caps each captured output stream, in bytes per stream.
func WithMaxOutputSize(n int) Option {
	return func(e *Engine) { e.maxOutputSize = n }
}

// New creates an Engine backed by the given session store and capabilities.
func New(store persistence.SessionStore, caps api.Capabilities, opts ...Option) *Engine {
	e := &Engine{
		recipes:      make(map[string]*api.Recipe),
		store:        store,
		events:       persistence.NoopEventStore{},
		caps:         caps,
		observer:     api.NoopObserver{},
		defaultShell: api.DefaultShell,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterRecipe validates and registers a recipe by name. Re-registering a
// name replaces the previous recipe for sessions started afterwards.
func (e *Engine) RegisterRecipe(r *api.Recipe) error {
	if r == nil {
		return fmt.Errorf("recipe is nil")
	}
	if err := r.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.recipes[r.Name] = r
	return nil
}

func (e *Engine) getRecipe(name string) (*api.Recipe, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.recipes[name]
	if !ok {
		return nil, fmt.Errorf("recipe %q is not registered", name)
	}
	return r, nil
}

func (e *Engine) Run(ctx context.Context, recipeName string, initial map[string]any) (*api.Session, error) {
	recipe, err := e.getRecipe(recipeName)
	if err != nil {
		return nil, err
	}

	seed := make(map[string]any, len(recipe.Context)+len(initial))
	for k, v := range recipe.Context {
		seed[k] = v
	}
	for k, v := range initial {
		seed[k] = v
	}

	store, err := vars.NewStore(seed)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &api.Session{
		ID:         uuid.NewString(),
		RecipeName: recipe.Name,
		Status:     api.StatusRunning,
		Context:    store.Snapshot(),
		Outcomes:   make(map[string]*api.StepOutcome),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Engine-provided context, under the reserved names.
	if err := store.Set("recipe", map[string]any{"name": recipe.Name, "version": recipe.Version}); err != nil {
		return nil, err
	}
	if err := store.Set("session", map[string]any{"id": sess.ID}); err != nil {
		return nil, err
	}

	if err := e.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	e.appendEvent(ctx, api.SessionEvent{
		SessionID:  sess.ID,
		Type:       api.EventSessionStarted,
		RecipeName: recipe.Name,
		Iteration:  -1,
	})
	e.observer.OnSessionStart(ctx, sess)

	r := newRun(e, recipe, sess, store)
	r.execute(ctx)

	return sess, nil
}

func (e *Engine) GetSession(ctx context.Context, id string) (*api.Session, error) {
	return e.store.GetSession(ctx, id)
}

func (e *Engine) ListSessions(ctx context.Context, opts api.SessionListOptions) ([]*api.Session, error) {
	return e.store.ListSessions(ctx, persistence.SessionFilter{
		RecipeName: opts.RecipeName,
		Status:     opts.Status,
	})
}

// Resume reloads the latest checkpoint and re-enters the graph. Only
// sessions that stopped short of completion can be resumed.
func (e *Engine) Resume(ctx context.Context, id string) (*api.Session, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case api.StatusFailed, api.StatusPartial, api.StatusAborted:
	default:
		return nil, fmt.Errorf("session %s has status %s and cannot be resumed", id, sess.Status)
	}

	recipe, err := e.getRecipe(sess.RecipeName)
	if err != nil {
		return nil, err
	}

	// The latest checkpoint is the resume point; a session that failed
	// before its first checkpoint restarts from its saved context.
	cp, err := e.store.LatestCheckpoint(ctx, id)
	if err == nil {
		sess.Context = cp.Context
		sess.Outcomes = cp.Outcomes
		sess.Seq = cp.Seq
	} else if !errors.Is(err, persistence.ErrCheckpointNotFound) {
		return nil, err
	}
	if sess.Outcomes == nil {
		sess.Outcomes = make(map[string]*api.StepOutcome)
	}

	// Failed steps run again; interrupted steps restart from pending.
	// Succeeded and skipped steps keep their outcomes and are not re-run.
	for key, o := range sess.Outcomes {
		if !o.Status.IsTerminal() || o.Status == api.StepFailed {
			delete(sess.Outcomes, key)
		}
	}

	store, err := vars.NewStore(sess.Context)
	if err != nil {
		return nil, err
	}
	if err := store.Set("recipe", map[string]any{"name": recipe.Name, "version": recipe.Version}); err != nil {
		return nil, err
	}
	if err := store.Set("session", map[string]any{"id": sess.ID}); err != nil {
		return nil, err
	}

	sess.Status = api.StatusRunning
	sess.Err = ""
	sess.UpdatedAt = time.Now()
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}

	e.appendEvent(ctx, api.SessionEvent{
		SessionID:  sess.ID,
		Type:       api.EventSessionResumed,
		RecipeName: sess.RecipeName,
		Iteration:  -1,
	})
	e.observer.OnSessionStart(ctx, sess)

	r := newRun(e, recipe, sess, store)
	r.execute(ctx)

	return sess, nil
}

func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	return e.store.DeleteSession(ctx, id)
}

// Events returns the recorded history of a session, oldest first.
func (e *Engine) Events(ctx context.Context, sessionID string) ([]api.SessionEvent, error) {
	return e.events.ListEvents(ctx, sessionID)
}

func (e *Engine) appendEvent(ctx context.Context, ev api.SessionEvent) {
	ev.At = time.Now()
	// History is best-effort; a failed append never fails the session.
	_ = e.events.AppendEvent(ctx, ev)
}
