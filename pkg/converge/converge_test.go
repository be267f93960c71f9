package converge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/simmerhq/simmer/internal/logging"
	"github.com/simmerhq/simmer/pkg/api"
)

// phaseRecorder is a slog.Handler that collects the loop's phase records.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []string
}

func (r *phaseRecorder) Enabled(ctx context.Context, level slog.Level) bool { return true }

func (r *phaseRecorder) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Message != "phase" {
		return nil
	}
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == "phase" {
			r.mu.Lock()
			r.phases = append(r.phases, a.Value.String())
			r.mu.Unlock()
		}
		return true
	})
	return nil
}

func (r *phaseRecorder) WithAttrs(attrs []slog.Attr) slog.Handler { return r }
func (r *phaseRecorder) WithGroup(name string) slog.Handler      { return r }

type stubGenerator struct {
	requests  []GenerateRequest
	artifacts []string // one per round; "" means error
}

func (g *stubGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	g.requests = append(g.requests, req)
	idx := req.Round - 1
	if idx >= len(g.artifacts) || g.artifacts[idx] == "" {
		return "", errors.New("nothing produced")
	}
	return g.artifacts[idx], nil
}

type stubHarness struct {
	// passCounts[i] is how many of total scenarios pass in round i+1.
	passCounts []int
	total      int
	calls      int
}

func (h *stubHarness) Evaluate(ctx context.Context, artifact string) ([]ScenarioResult, error) {
	pass := 0
	if h.calls < len(h.passCounts) {
		pass = h.passCounts[h.calls]
	} else if len(h.passCounts) > 0 {
		pass = h.passCounts[len(h.passCounts)-1]
	}
	h.calls++

	results := make([]ScenarioResult, h.total)
	for i := range results {
		results[i] = ScenarioResult{
			ScenarioID: fmt.Sprintf("sc-%d", i),
			Passed:     i < pass,
			Evidence:   Evidence{Expected: "ok", Actual: "not ok"},
		}
	}
	return results, nil
}

func TestSatisfaction(t *testing.T) {
	t.Parallel()

	results := make([]ScenarioResult, 10)
	for i := range results {
		results[i].Passed = i < 7
	}
	require.InDelta(t, 0.7, Satisfaction(results), 1e-9)
	require.Equal(t, 1.0, Satisfaction(nil))
}

func TestLoop_ConvergesWhenThresholdMet(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{artifacts: []string{"v1", "v2", "v3"}}
	harness := &stubHarness{passCounts: []int{5, 8, 10}, total: 10}

	loop := NewLoop(gen, harness, Config{MaxIterations: 10}, WithLogger(logging.NewForTest()))
	report, err := loop.Run(context.Background(), "build the thing")
	require.NoError(t, err)

	require.True(t, report.Converged)
	require.Len(t, report.Rounds, 3)
	require.Equal(t, 1.0, report.Satisfaction)
	require.Equal(t, "v3", report.FinalArtifact)
}

func TestLoop_PhaseSequence(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{artifacts: []string{"v1", "v2"}}
	harness := &stubHarness{passCounts: []int{0, 1}, total: 1}

	rec := &phaseRecorder{}
	loop := NewLoop(gen, harness, Config{MaxIterations: 3}, WithLogger(slog.New(rec)))
	report, err := loop.Run(context.Background(), "spec")
	require.NoError(t, err)
	require.True(t, report.Converged)

	// Seed and scaffold happen once, then rounds re-enter at generate.
	require.Equal(t, []string{
		string(PhaseSeed),
		string(PhaseScaffold),
		string(PhaseGenerate), string(PhaseValidate), string(PhaseAssess), string(PhaseFeedback),
		string(PhaseGenerate), string(PhaseValidate), string(PhaseAssess), string(PhaseReport),
	}, rec.phases)
}

func TestLoop_PartialThreshold(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{artifacts: []string{"v1"}}
	harness := &stubHarness{passCounts: []int{7}, total: 10}

	loop := NewLoop(gen, harness, Config{SatisfactionThreshold: 0.7}, WithLogger(logging.NewForTest()))
	report, err := loop.Run(context.Background(), "spec")
	require.NoError(t, err)

	require.True(t, report.Converged)
	require.InDelta(t, 0.7, report.Satisfaction, 1e-9)
	require.Len(t, report.Rounds, 1)
}

func TestLoop_StopsAtIterationBudget(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{artifacts: []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7"}}
	harness := &stubHarness{passCounts: []int{0}, total: 4}

	loop := NewLoop(gen, harness, Config{}, WithLogger(logging.NewForTest()))
	report, err := loop.Run(context.Background(), "spec")
	require.NoError(t, err)

	require.False(t, report.Converged)
	require.Len(t, report.Rounds, DefaultMaxIterations)
	require.Len(t, gen.requests, DefaultMaxIterations)
}

func TestLoop_FailedGenerationConsumesBudget(t *testing.T) {
	t.Parallel()

	// Rounds 1 and 2 produce nothing; round 3 converges.
	gen := &stubGenerator{artifacts: []string{"", "", "v3"}}
	harness := &stubHarness{passCounts: []int{1}, total: 1}

	loop := NewLoop(gen, harness, Config{MaxIterations: 3}, WithLogger(logging.NewForTest()))
	report, err := loop.Run(context.Background(), "spec")
	require.NoError(t, err)

	require.True(t, report.Converged)
	require.Len(t, report.Rounds, 3)
	require.NotEmpty(t, report.Rounds[0].GenerateErr)
	require.NotEmpty(t, report.Rounds[1].GenerateErr)

	// The failure is echoed to the next round as feedback.
	require.Contains(t, gen.requests[1].Feedback, "produced no artifact")
}

func TestLoop_FeedbackCarriesEvidenceOnly(t *testing.T) {
	t.Parallel()

	secretPayload := "payload-SECRET-input"
	secretDescription := "description-SECRET-notes"

	scenarios := []Scenario{
		{
			ID:          "hidden",
			Type:        ScenarioDeterministic,
			Description: secretDescription,
			Payload:     map[string]any{"input": secretPayload},
			Expected:    "42",
		},
	}
	harness := &ScenarioHarness{
		Scenarios: scenarios,
		Runner: func(ctx context.Context, sc Scenario, artifact string) (string, error) {
			return "41", nil
		},
	}
	gen := &stubGenerator{artifacts: []string{"v1", "v2"}}

	loop := NewLoop(gen, harness, Config{MaxIterations: 2}, WithLogger(logging.NewForTest()))
	_, err := loop.Run(context.Background(), "spec")
	require.NoError(t, err)

	require.Len(t, gen.requests, 2)
	second := gen.requests[1]

	// Evidence reaches the generator; hidden scenario internals never do.
	require.Contains(t, second.Feedback, `"42"`)
	require.Contains(t, second.Feedback, `"41"`)
	require.NotContains(t, second.Feedback, secretPayload)
	require.NotContains(t, second.Feedback, secretDescription)
	for _, req := range gen.requests {
		require.NotContains(t, req.Spec, secretPayload)
		for _, h := range req.History {
			require.NotContains(t, h.Feedback, secretPayload)
		}
	}
}

func TestSynthesizeFeedback(t *testing.T) {
	t.Parallel()

	require.Empty(t, SynthesizeFeedback([]ScenarioResult{{Passed: true}}))

	fb := SynthesizeFeedback([]ScenarioResult{
		{Passed: true},
		{Passed: false, Evidence: Evidence{Expected: "a", Actual: "b", Detail: "case 2"}},
	})
	require.Contains(t, fb, `expected "a"`)
	require.Contains(t, fb, `observed "b"`)
	require.Contains(t, fb, "case 2")
}

type stubJudge struct {
	verdict bool
	detail  string
}

func (j *stubJudge) Assess(ctx context.Context, expected, actual string) (bool, string, error) {
	return j.verdict, j.detail, nil
}

func TestScenarioHarness_DeterministicAndSemantic(t *testing.T) {
	t.Parallel()

	h := &ScenarioHarness{
		Scenarios: []Scenario{
			{ID: "exact", Type: ScenarioDeterministic, Expected: "yes"},
			{ID: "fuzzy", Type: ScenarioSemantic, Expected: "a polite reply"},
		},
		Runner: func(ctx context.Context, sc Scenario, artifact string) (string, error) {
			if sc.ID == "exact" {
				return "yes\n", nil
			}
			return "thank you kindly", nil
		},
		Judge: &stubJudge{verdict: true, detail: "tone acceptable"},
	}

	results, err := h.Evaluate(context.Background(), "artifact")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Passed)
	require.True(t, results[1].Passed)
	require.Equal(t, "tone acceptable", results[1].Evidence.Detail)
}

func TestScenarioHarness_RunnerErrorIsFailure(t *testing.T) {
	t.Parallel()

	h := &ScenarioHarness{
		Scenarios: []Scenario{{ID: "broken", Expected: "anything"}},
		Runner: func(ctx context.Context, sc Scenario, artifact string) (string, error) {
			return "", errors.New("artifact crashed")
		},
	}

	results, err := h.Evaluate(context.Background(), "artifact")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Passed)
	require.Contains(t, results[0].Evidence.Detail, "artifact crashed")
}

func TestScenarioHarness_SemanticWithoutJudgeErrors(t *testing.T) {
	t.Parallel()

	h := &ScenarioHarness{
		Scenarios: []Scenario{{ID: "s", Type: ScenarioSemantic, Expected: "x"}},
		Runner: func(ctx context.Context, sc Scenario, artifact string) (string, error) {
			return "y", nil
		},
	}
	_, err := h.Evaluate(context.Background(), "artifact")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no judge")
}

// fakeEngine satisfies api.Engine for generator tests.
type fakeEngine struct {
	lastInitial map[string]any
	status      api.Status
	context     map[string]any
}

func (f *fakeEngine) RegisterRecipe(r *api.Recipe) error { return nil }

func (f *fakeEngine) Run(ctx context.Context, recipeName string, initial map[string]any) (*api.Session, error) {
	f.lastInitial = initial
	return &api.Session{
		ID:         "s-1",
		RecipeName: recipeName,
		Status:     f.status,
		Context:    f.context,
	}, nil
}

func (f *fakeEngine) GetSession(ctx context.Context, id string) (*api.Session, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEngine) ListSessions(ctx context.Context, opts api.SessionListOptions) ([]*api.Session, error) {
	return nil, nil
}

func (f *fakeEngine) Resume(ctx context.Context, id string) (*api.Session, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEngine) DeleteSession(ctx context.Context, id string) error { return nil }

func TestEngineGenerator_SeedsContextAndReadsArtifact(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		status:  api.StatusCompleted,
		context: map[string]any{"artifact": "the generated text"},
	}
	gen := &EngineGenerator{Engine: eng, RecipeName: "builder", ArtifactKey: "artifact"}

	out, err := gen.Generate(context.Background(), GenerateRequest{
		Spec:     "spec text",
		Feedback: "fix the greeting",
		Round:    2,
	})
	require.NoError(t, err)
	require.Equal(t, "the generated text", out)

	require.Equal(t, "spec text", eng.lastInitial["spec"])
	require.Equal(t, "fix the greeting", eng.lastInitial["feedback"])
	require.Equal(t, float64(2), eng.lastInitial["round"])
}

func TestEngineGenerator_FailedSessionIsError(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{status: api.StatusFailed}
	gen := &EngineGenerator{Engine: eng, RecipeName: "builder", ArtifactKey: "artifact"}

	_, err := gen.Generate(context.Background(), GenerateRequest{Round: 1})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "FAILED"))
}

func TestEngineGenerator_MissingArtifactIsError(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{status: api.StatusCompleted, context: map[string]any{}}
	gen := &EngineGenerator{Engine: eng, RecipeName: "builder", ArtifactKey: "artifact"}

	_, err := gen.Generate(context.Background(), GenerateRequest{Round: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bound no")
}
