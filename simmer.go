package simmer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/simmerhq/simmer/internal/agentexec"
	"github.com/simmerhq/simmer/internal/engine"
	"github.com/simmerhq/simmer/internal/persistence"
	"github.com/simmerhq/simmer/internal/shellexec"
	"github.com/simmerhq/simmer/pkg/api"
)

// Re-exported API types. The full definitions live in pkg/api.
type (
	Engine             = api.Engine
	Recipe             = api.Recipe
	Step               = api.Step
	RetrySpec          = api.RetrySpec
	Session            = api.Session
	StepOutcome        = api.StepOutcome
	SessionEvent       = api.SessionEvent
	SessionListOptions = api.SessionListOptions
	Status             = api.Status
	StepStatus         = api.StepStatus
	StepKind           = api.StepKind
	OnError            = api.OnError
	BackoffKind        = api.BackoffKind
	Capabilities       = api.Capabilities
	AgentInvoker       = api.AgentInvoker
	AgentRequest       = api.AgentRequest
	AgentResult        = api.AgentResult
	ShellRunner        = api.ShellRunner
	ShellRequest       = api.ShellRequest
	ShellResult        = api.ShellResult
	Observer           = api.Observer
)

// Session statuses.
const (
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusPartial   = api.StatusPartial
	StatusAborted   = api.StatusAborted
)

// Step kinds.
const (
	StepAgent = api.StepAgent
	StepBash  = api.StepBash
)

// Step statuses.
const (
	StepPending   = api.StepPending
	StepReady     = api.StepReady
	StepRunning   = api.StepRunning
	StepSucceeded = api.StepSucceeded
	StepFailed    = api.StepFailed
	StepSkipped   = api.StepSkipped
)

// Failure policies.
const (
	OnErrorFail          = api.OnErrorFail
	OnErrorContinue      = api.OnErrorContinue
	OnErrorSkipRemaining = api.OnErrorSkipRemaining
)

// Backoff curves.
const (
	BackoffExponential = api.BackoffExponential
	BackoffLinear      = api.BackoffLinear
)

// Re-exported helpers.
var (
	ParseRecipe          = api.ParseRecipe
	LoadRecipeFile       = api.LoadRecipeFile
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	OutcomeKey           = api.OutcomeKey
)

// EngineOption configures an engine built by one of the constructors.
type EngineOption func(*engineConfig)

type engineConfig struct {
	observer      api.Observer
	defaultShell  string
	maxOutputSize int
}

// WithObserver attaches an observer to the engine. Combine several with
// NewCompositeObserver.
func WithObserver(o Observer) EngineOption {
	return func(c *engineConfig) { c.observer = o }
}

// WithDefaultShell sets the shell for bash steps that do not name one.
func WithDefaultShell(shell string) EngineOption {
	return func(c *engineConfig) { c.defaultShell = shell }
}

// WithMaxOutputSize caps each captured output stream, in bytes per stream.
func WithMaxOutputSize(n int) EngineOption {
	return func(c *engineConfig) { c.maxOutputSize = n }
}

func (c *engineConfig) engineOptions(events persistence.EventStore) []engine.Option {
	opts := []engine.Option{engine.WithEventStore(events)}
	if c.observer != nil {
		opts = append(opts, engine.WithObserver(c.observer))
	}
	if c.defaultShell != "" {
		opts = append(opts, engine.WithDefaultShell(c.defaultShell))
	}
	if c.maxOutputSize > 0 {
		opts = append(opts, engine.WithMaxOutputSize(c.maxOutputSize))
	}
	return opts
}

// NewInMemoryEngine creates an engine whose sessions, checkpoints and
// history live in process memory. Suited to tests and one-shot runs.
func NewInMemoryEngine(caps Capabilities, opts ...EngineOption) Engine {
	var cfg engineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	store := persistence.NewInMemoryStore()
	return engine.New(store, caps, cfg.engineOptions(store)...)
}

// NewSQLiteEngine creates an engine persisting sessions, checkpoints and
// history to the given database. The caller owns the connection and must
// import a sqlite driver (for example modernc.org/sqlite).
func NewSQLiteEngine(db *sql.DB, caps Capabilities, opts ...EngineOption) (Engine, error) {
	var cfg engineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	store, err := persistence.NewSQLiteSessionStore(db)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}
	return engine.New(store, caps, cfg.engineOptions(events)...), nil
}

// DefaultCapabilities returns capabilities with a local shell runner and no
// agent. Attach an agent with CommandAgent when recipes need one.
func DefaultCapabilities() Capabilities {
	return Capabilities{Shell: shellexec.NewRunner()}
}

// CommandAgent builds an agent capability around an external command. The
// prompt is written to the command's stdin and the reply read from stdout;
// agent and model names are passed through the environment.
func CommandAgent(argv ...string) (AgentInvoker, error) {
	return agentexec.NewCommandInvoker(argv)
}

// RunFile loads a recipe from disk, registers it, and runs one session.
func RunFile(ctx context.Context, eng Engine, path string, initial map[string]any) (*Session, error) {
	recipe, err := LoadRecipeFile(path)
	if err != nil {
		return nil, err
	}
	if err := eng.RegisterRecipe(recipe); err != nil {
		return nil, err
	}
	return eng.Run(ctx, recipe.Name, initial)
}

// eventLister is implemented by engines that record session history.
type eventLister interface {
	Events(ctx context.Context, sessionID string) ([]api.SessionEvent, error)
}

// SessionEvents returns the recorded history of a session, oldest first.
// Engines without history recording return an error.
func SessionEvents(ctx context.Context, eng Engine, sessionID string) ([]SessionEvent, error) {
	lister, ok := eng.(eventLister)
	if !ok {
		return nil, fmt.Errorf("engine does not record session history")
	}
	return lister.Events(ctx, sessionID)
}
