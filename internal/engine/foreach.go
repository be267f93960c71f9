package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/simmerhq/simmer/pkg/api"
)

// runForeach expands a foreach step over its resolved list and returns the
// graph-level summary outcome. Per-iteration outcomes are recorded under
// "id#N" keys as they finish; the summary's Attempts field carries the
// number of iterations executed. A nil return means the session was aborted.
func (r *run) runForeach(ctx context.Context, step *api.Step) *api.StepOutcome {
	started := time.Now()
	summary := func(status api.StepStatus, executed int, errMsg string) *api.StepOutcome {
		return &api.StepOutcome{
			StepID:    step.ID,
			Kind:      step.Kind(),
			Iteration: -1,
			Status:    status,
			Attempts:  executed,
			Error:     errMsg,
			StartedAt: started,
			Duration:  time.Since(started),
		}
	}

	items, err := r.resolveForeachList(step)
	if err != nil {
		return summary(api.StepFailed, 0, err.Error())
	}

	maxIter := step.MaxIterations
	if maxIter <= 0 {
		maxIter = api.DefaultMaxIterations
	}
	if len(items) > maxIter {
		err := api.NewValidationError(step.ID, "foreach list has %d items, exceeding max_iterations %d", len(items), maxIter)
		return summary(api.StepFailed, 0, err.Error())
	}

	results := make([]any, len(items))
	errMsgs := make([]string, len(items))
	tolerate := step.ErrorPolicy() == api.OnErrorContinue

	var executed int
	var aborted bool

	if step.Parallel {
		executed, aborted = r.foreachParallel(ctx, step, items, results, errMsgs, tolerate)
	} else {
		executed, aborted = r.foreachSequential(ctx, step, items, results, errMsgs, tolerate)
	}
	if aborted {
		return nil
	}

	var firstErr string
	for _, msg := range errMsgs {
		if msg != "" {
			firstErr = msg
			break
		}
	}
	if firstErr != "" && !tolerate {
		return summary(api.StepFailed, executed, firstErr)
	}

	if name := collectName(step); name != "" {
		if err := r.vars.Set(name, results); err != nil {
			return summary(api.StepFailed, executed, fmt.Sprintf("binding collected results: %v", err))
		}
	}
	return summary(api.StepSucceeded, executed, "")
}

// collectName is the context variable the collected list binds to.
func collectName(step *api.Step) string {
	if step.Collect != "" {
		return step.Collect
	}
	return step.Output
}

// resolveForeachList resolves the foreach reference to a list. The reference
// is a variable path, with or without the {{...}} wrapping.
func (r *run) resolveForeachList(step *api.Step) ([]any, error) {
	path := strings.TrimSpace(step.Foreach)
	path = strings.TrimPrefix(path, "{{")
	path = strings.TrimSuffix(path, "}}")
	path = strings.TrimSpace(path)

	v, err := r.vars.Resolve(path)
	if err != nil {
		return nil, api.NewValidationError(step.ID, "foreach: %v", err)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, api.NewValidationError(step.ID, "foreach variable %s is not a list", path)
	}
	return list, nil
}

// foreachSequential runs iterations in declared order, waiting delay_between
// milliseconds between consecutive iterations. A failure stops the loop
// unless the step's policy tolerates it.
func (r *run) foreachSequential(ctx context.Context, step *api.Step, items, results []any, errMsgs []string, tolerate bool) (executed int, aborted bool) {
	delay := time.Duration(step.DelayBetween) * time.Millisecond
	loopVar := step.LoopVar()

	for i, item := range items {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return executed, true
			case <-time.After(delay):
			}
		}

		overlay := map[string]any{loopVar: item}
		outcome, value, _ := r.executeInstance(ctx, step, overlay, i)
		if outcome == nil {
			return executed, true
		}
		executed++
		r.recordIteration(ctx, step, i, outcome)

		if outcome.Status == api.StepFailed {
			errMsgs[i] = outcome.Error
			if !tolerate {
				return executed, false
			}
			continue
		}
		results[i] = value
	}
	return executed, false
}

// foreachParallel runs all iterations at once. Under a non-tolerant policy
// the first failure cancels the siblings; cancelled iterations record no
// outcome.
func (r *run) foreachParallel(ctx context.Context, step *api.Step, items, results []any, errMsgs []string, tolerate bool) (executed int, aborted bool) {
	ictx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopVar := step.LoopVar()
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()

			overlay := map[string]any{loopVar: item}
			outcome, value, _ := r.executeInstance(ictx, step, overlay, i)
			if outcome == nil {
				// Aborted by the session or cancelled by a failed sibling.
				return
			}
			r.recordIteration(ctx, step, i, outcome)

			mu.Lock()
			executed++
			if outcome.Status == api.StepFailed {
				errMsgs[i] = outcome.Error
				if !tolerate {
					cancel()
				}
			} else {
				results[i] = value
			}
			mu.Unlock()
		}(i, item)
	}
	wg.Wait()

	return executed, ctx.Err() != nil
}

// recordIteration stores a per-iteration outcome and checkpoints it.
func (r *run) recordIteration(ctx context.Context, step *api.Step, iteration int, outcome *api.StepOutcome) {
	r.mu.Lock()
	r.sess.Outcomes[api.OutcomeKey(step.ID, iteration)] = outcome
	r.mu.Unlock()

	r.checkpoint(ctx)
	r.notifyStep(ctx, outcome)
}
