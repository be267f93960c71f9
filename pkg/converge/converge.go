// Package converge implements the outer improvement loop: generate an
// artifact, evaluate it against hidden scenarios, synthesize feedback from
// the evidence, and try again until the satisfaction threshold is met or the
// iteration budget runs out.
//
// The central information-flow rule: the generator only ever sees the spec,
// synthesized feedback, and round bookkeeping. Scenario payloads, private
// descriptions and expectations never reach it; only Evidence extracted from
// a finished evaluation may inform the next round.
package converge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Phase names a stage of the loop, used for logging and progress reporting.
type Phase string

const (
	PhaseSeed     Phase = "seed"
	PhaseScaffold Phase = "scaffold"
	PhaseGenerate Phase = "generate"
	PhaseValidate Phase = "validate"
	PhaseAssess   Phase = "assess"
	PhaseFeedback Phase = "feedback"
	PhaseReport   Phase = "report"
)

// ScenarioType distinguishes how a scenario is judged.
type ScenarioType string

const (
	// ScenarioDeterministic is judged by exact comparison with Expected.
	ScenarioDeterministic ScenarioType = "deterministic"
	// ScenarioSemantic is judged by a Judge.
	ScenarioSemantic ScenarioType = "semantic"
)

// Scenario is one hidden test case. Payload and Description are private to
// the harness; only the Evidence produced by an evaluation may leave it.
type Scenario struct {
	ID          string
	Type        ScenarioType
	Description string
	Payload     map[string]any
	Expected    string
}

// Evidence is the shareable residue of one scenario evaluation. Everything
// in it is allowed to appear in feedback to the generator.
type Evidence struct {
	Expected string
	Actual   string
	Detail   string
}

// ScenarioResult is the outcome of evaluating one scenario.
type ScenarioResult struct {
	ScenarioID string
	Type       ScenarioType
	Passed     bool
	Evidence   Evidence
}

// RoundSummary is the compact history entry carried between rounds.
type RoundSummary struct {
	Round        int
	Satisfaction float64
	Feedback     string
}

// GenerateRequest is everything the generator is allowed to see.
type GenerateRequest struct {
	Spec     string
	Feedback string
	Round    int
	History  []RoundSummary
}

// Generator produces an artifact from a request.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Harness evaluates an artifact against its hidden scenarios.
type Harness interface {
	Evaluate(ctx context.Context, artifact string) ([]ScenarioResult, error)
}

// Judge assesses whether an actual output satisfies an expectation that
// cannot be checked by exact comparison. The returned detail becomes part of
// the evidence.
type Judge interface {
	Assess(ctx context.Context, expected, actual string) (passed bool, detail string, err error)
}

// Config tunes the loop.
type Config struct {
	// SatisfactionThreshold is the pass fraction at which the loop stops.
	// Zero means 1.0 (all scenarios must pass).
	SatisfactionThreshold float64

	// MaxIterations bounds the number of rounds, including rounds whose
	// generation failed outright. Zero means DefaultMaxIterations.
	MaxIterations int
}

// DefaultMaxIterations is the round budget when none is configured.
const DefaultMaxIterations = 5

// RoundReport records one completed round.
type RoundReport struct {
	Round        int
	Satisfaction float64
	Results      []ScenarioResult
	Feedback     string
	GenerateErr  string
}

// Report is the loop's final result.
type Report struct {
	Rounds        []RoundReport
	Satisfaction  float64
	Converged     bool
	FinalArtifact string
}

// Loop drives generate / evaluate / feedback rounds.
type Loop struct {
	gen     Generator
	harness Harness
	cfg     Config
	logger  *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates a Loop over the given generator and harness.
func NewLoop(gen Generator, harness Harness, cfg Config, opts ...LoopOption) *Loop {
	if cfg.SatisfactionThreshold <= 0 {
		cfg.SatisfactionThreshold = 1.0
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	l := &Loop{
		gen:     gen,
		harness: harness,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes rounds until the threshold is met or the budget is spent.
// A round whose generation fails still consumes budget; its error is fed
// back to the next round as feedback.
func (l *Loop) Run(ctx context.Context, spec string) (*Report, error) {
	report := &Report{}
	var feedback string
	var history []RoundSummary

	// The spec is accepted once, and the first round is set up once; every
	// later round re-enters at generate.
	l.logPhase(1, PhaseSeed)
	l.logPhase(1, PhaseScaffold)

	for round := 1; round <= l.cfg.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		l.logPhase(round, PhaseGenerate)
		artifact, err := l.gen.Generate(ctx, GenerateRequest{
			Spec:     spec,
			Feedback: feedback,
			Round:    round,
			History:  history,
		})
		if err != nil {
			feedback = "the previous attempt produced no artifact: " + err.Error()
			report.Rounds = append(report.Rounds, RoundReport{
				Round:       round,
				Feedback:    feedback,
				GenerateErr: err.Error(),
			})
			history = append(history, RoundSummary{Round: round, Feedback: feedback})
			l.logger.Warn("generation failed", "round", round, "error", err)
			continue
		}

		l.logPhase(round, PhaseValidate)
		results, err := l.harness.Evaluate(ctx, artifact)
		if err != nil {
			return report, fmt.Errorf("round %d: evaluating artifact: %w", round, err)
		}

		l.logPhase(round, PhaseAssess)
		sat := Satisfaction(results)
		report.Satisfaction = sat
		report.FinalArtifact = artifact

		if sat >= l.cfg.SatisfactionThreshold {
			report.Rounds = append(report.Rounds, RoundReport{
				Round:        round,
				Satisfaction: sat,
				Results:      results,
			})
			report.Converged = true
			l.logPhase(round, PhaseReport)
			l.logger.Info("converged", "round", round, "satisfaction", sat)
			return report, nil
		}

		l.logPhase(round, PhaseFeedback)
		feedback = SynthesizeFeedback(results)
		report.Rounds = append(report.Rounds, RoundReport{
			Round:        round,
			Satisfaction: sat,
			Results:      results,
			Feedback:     feedback,
		})
		history = append(history, RoundSummary{Round: round, Satisfaction: sat, Feedback: feedback})
		l.logger.Info("round complete", "round", round, "satisfaction", sat)
	}

	l.logPhase(l.cfg.MaxIterations, PhaseReport)
	return report, nil
}

func (l *Loop) logPhase(round int, phase Phase) {
	l.logger.Debug("phase", "round", round, "phase", string(phase))
}

// Satisfaction is the fraction of scenarios that passed. An empty result set
// is fully satisfied.
func Satisfaction(results []ScenarioResult) float64 {
	if len(results) == 0 {
		return 1.0
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(results))
}

// SynthesizeFeedback turns failing results into generator guidance. It uses
// only the Evidence of each failure; scenario payloads and descriptions stay
// hidden.
func SynthesizeFeedback(results []ScenarioResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&b, "- a check expected %q but observed %q", r.Evidence.Expected, r.Evidence.Actual)
		if r.Evidence.Detail != "" {
			fmt.Fprintf(&b, " (%s)", r.Evidence.Detail)
		}
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return ""
	}
	return "The previous artifact failed some checks:\n" + b.String()
}
