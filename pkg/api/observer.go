package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay step execution.
type Observer interface {
	// OnSessionStart is called once when a session is first started,
	// before the first step is dispatched.
	OnSessionStart(ctx context.Context, sess *Session)

	// OnSessionCompleted is called when a session reaches StatusCompleted
	// or StatusPartial.
	OnSessionCompleted(ctx context.Context, sess *Session)

	// OnSessionFailed is called when a session transitions to StatusFailed
	// or StatusAborted.
	OnSessionFailed(ctx context.Context, sess *Session, err error)

	// OnStepStart is called before dispatching a step instance.
	// iteration is -1 outside foreach loops.
	OnStepStart(ctx context.Context, sess *Session, stepID string, iteration int)

	// OnStepCompleted is called after a step instance reaches a terminal
	// state, for successes, failures and skips alike.
	OnStepCompleted(ctx context.Context, sess *Session, outcome *StepOutcome)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSessionStart(ctx context.Context, sess *Session)                {}
func (NoopObserver) OnSessionCompleted(ctx context.Context, sess *Session)            {}
func (NoopObserver) OnSessionFailed(ctx context.Context, sess *Session, err error)    {}
func (NoopObserver) OnStepStart(ctx context.Context, sess *Session, id string, i int) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, sess *Session, o *StepOutcome) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSessionStart(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionStart(ctx, sess)
	}
}

func (c *CompositeObserver) OnSessionCompleted(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionCompleted(ctx, sess)
	}
}

func (c *CompositeObserver) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	for _, o := range c.observers {
		o.OnSessionFailed(ctx, sess, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, sess *Session, stepID string, iteration int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, sess, stepID, iteration)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, sess *Session, outcome *StepOutcome) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, sess, outcome)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs session / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSessionStart(ctx context.Context, sess *Session) {
	o.Logger.InfoContext(ctx, "session_start",
		slog.String("recipe", sess.RecipeName),
		slog.String("session_id", sess.ID),
	)
}

func (o *LoggingObserver) OnSessionCompleted(ctx context.Context, sess *Session) {
	o.Logger.InfoContext(ctx, "session_completed",
		slog.String("recipe", sess.RecipeName),
		slog.String("session_id", sess.ID),
		slog.String("status", string(sess.Status)),
	)
}

func (o *LoggingObserver) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	o.Logger.ErrorContext(ctx, "session_failed",
		slog.String("recipe", sess.RecipeName),
		slog.String("session_id", sess.ID),
		slog.String("status", string(sess.Status)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, sess *Session, stepID string, iteration int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("session_id", sess.ID),
		slog.String("step", stepID),
		slog.Int("iteration", iteration),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, sess *Session, outcome *StepOutcome) {
	level := slog.LevelDebug
	if outcome.Status == StepFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("session_id", sess.ID),
		slog.String("step", outcome.StepID),
		slog.String("kind", string(outcome.Kind)),
		slog.Int("iteration", outcome.Iteration),
		slog.String("status", string(outcome.Status)),
		slog.Int("attempts", outcome.Attempts),
		slog.Duration("duration", outcome.Duration),
		slog.String("error", outcome.Error),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	sessionsStarted   atomic.Int64
	sessionsCompleted atomic.Int64
	sessionsFailed    atomic.Int64
	stepsSucceeded    atomic.Int64
	stepsFailed       atomic.Int64
	stepsSkipped      atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64

	StepsSucceeded  int64
	StepsFailed     int64
	StepsSkipped    int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnSessionStart(ctx context.Context, sess *Session) {
	m.sessionsStarted.Add(1)
}

func (m *BasicMetrics) OnSessionCompleted(ctx context.Context, sess *Session) {
	m.sessionsCompleted.Add(1)
}

func (m *BasicMetrics) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	m.sessionsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, sess *Session, outcome *StepOutcome) {
	switch outcome.Status {
	case StepSucceeded:
		m.stepsSucceeded.Add(1)
		m.totalStepDuration.Add(outcome.Duration.Nanoseconds())
	case StepFailed:
		m.stepsFailed.Add(1)
	case StepSkipped:
		m.stepsSkipped.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	succeeded := m.stepsSucceeded.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if succeeded > 0 {
		avg = time.Duration(totalNs / succeeded)
	}

	return BasicMetricsSnapshot{
		SessionsStarted:   m.sessionsStarted.Load(),
		SessionsCompleted: m.sessionsCompleted.Load(),
		SessionsFailed:    m.sessionsFailed.Load(),
		StepsSucceeded:    succeeded,
		StepsFailed:       m.stepsFailed.Load(),
		StepsSkipped:      m.stepsSkipped.Load(),
		AvgStepDuration:   avg,
	}
}
