package converge

import (
	"context"
	"fmt"
	"strings"
)

// RunnerFunc produces the artifact's actual output for one scenario. It is
// the only code that sees the scenario payload.
type RunnerFunc func(ctx context.Context, sc Scenario, artifact string) (string, error)

// ScenarioHarness evaluates a fixed scenario set against an artifact.
// Deterministic scenarios pass on exact (whitespace-trimmed) match with
// Expected; semantic scenarios are delegated to the Judge.
type ScenarioHarness struct {
	Scenarios []Scenario
	Runner    RunnerFunc
	Judge     Judge
}

var _ Harness = (*ScenarioHarness)(nil)

func (h *ScenarioHarness) Evaluate(ctx context.Context, artifact string) ([]ScenarioResult, error) {
	if h.Runner == nil {
		return nil, fmt.Errorf("harness has no runner")
	}

	results := make([]ScenarioResult, 0, len(h.Scenarios))
	for _, sc := range h.Scenarios {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		actual, err := h.Runner(ctx, sc, artifact)
		if err != nil {
			// A scenario the artifact cannot run at all is a failure with the
			// error as evidence, not a harness fault.
			results = append(results, ScenarioResult{
				ScenarioID: sc.ID,
				Type:       sc.Type,
				Evidence: Evidence{
					Expected: sc.Expected,
					Actual:   "",
					Detail:   err.Error(),
				},
			})
			continue
		}

		result := ScenarioResult{ScenarioID: sc.ID, Type: sc.Type}
		switch sc.Type {
		case ScenarioSemantic:
			if h.Judge == nil {
				return nil, fmt.Errorf("scenario %s is semantic but the harness has no judge", sc.ID)
			}
			passed, detail, err := h.Judge.Assess(ctx, sc.Expected, actual)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: judging: %w", sc.ID, err)
			}
			result.Passed = passed
			result.Evidence = Evidence{Expected: sc.Expected, Actual: actual, Detail: detail}
		default:
			result.Passed = strings.TrimSpace(actual) == strings.TrimSpace(sc.Expected)
			result.Evidence = Evidence{Expected: sc.Expected, Actual: actual}
		}
		results = append(results, result)
	}
	return results, nil
}
