package engine

import (
	"context"
	"sync"
	"time"

	"github.com/simmerhq/simmer/internal/expr"
	"github.com/simmerhq/simmer/internal/persistence"
	"github.com/simmerhq/simmer/internal/vars"
	"github.com/simmerhq/simmer/pkg/api"
)

// run drives one session through its graph. Steps whose dependencies have
// all reached a terminal state are dispatched together as a wave; the next
// wave is computed when the whole wave has finished.
type run struct {
	eng    *Engine
	recipe *api.Recipe
	sess   *api.Session
	vars   *vars.Store

	mu     sync.Mutex
	status map[string]api.StepStatus // graph-level, by step id
	skip   bool                      // a skip_remaining policy fired
	failed error                     // first on_error=fail failure
}

func newRun(e *Engine, recipe *api.Recipe, sess *api.Session, store *vars.Store) *run {
	r := &run{
		eng:    e,
		recipe: recipe,
		sess:   sess,
		vars:   store,
		status: make(map[string]api.StepStatus, len(recipe.Steps)),
	}
	for _, s := range recipe.Steps {
		// A resumed session keeps its terminal steps.
		if o, ok := sess.Outcomes[s.ID]; ok && o.Status.IsTerminal() {
			r.status[s.ID] = o.Status
		} else {
			r.status[s.ID] = api.StepPending
		}
	}
	return r
}

// execute runs waves until the graph is exhausted, a fail policy fires, or
// the context is cancelled. It finalizes the session status and persists it.
func (r *run) execute(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			r.finish(ctx, api.StatusAborted, ctx.Err().Error())
			return
		}
		if r.failed != nil {
			r.finish(ctx, api.StatusFailed, r.failed.Error())
			return
		}
		if r.skip {
			r.skipPending(ctx)
			r.finish(ctx, api.StatusPartial, "")
			return
		}

		wave := r.readySteps()
		if len(wave) == 0 {
			r.finish(ctx, api.StatusCompleted, "")
			return
		}

		var wg sync.WaitGroup
		for _, step := range wave {
			r.setStatus(step.ID, api.StepRunning)
			wg.Add(1)
			go func(step *api.Step) {
				defer wg.Done()
				r.runStep(ctx, step)
			}(step)
		}
		wg.Wait()
	}
}

// readySteps marks pending steps whose dependencies have all reached a
// terminal state ready and returns them. The recipe graph is validated
// acyclic, so an empty result with pending steps left can only follow a
// failure that stopped scheduling.
func (r *run) readySteps() []*api.Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []*api.Step
	for _, step := range r.recipe.Steps {
		if r.status[step.ID] != api.StepPending {
			continue
		}
		ok := true
		for _, dep := range step.DependsOn {
			if !r.status[dep].IsTerminal() {
				ok = false
				break
			}
		}
		if ok {
			r.status[step.ID] = api.StepReady
			ready = append(ready, step)
		}
	}
	return ready
}

func (r *run) setStatus(id string, st api.StepStatus) {
	r.mu.Lock()
	r.status[id] = st
	r.mu.Unlock()
}

// runStep executes one graph-level step: condition, then either a single
// instance or a foreach expansion. It records the outcome and applies the
// step's failure policy.
func (r *run) runStep(ctx context.Context, step *api.Step) {
	r.eng.observer.OnStepStart(ctx, r.sess, step.ID, -1)
	r.eng.appendEvent(ctx, api.SessionEvent{
		SessionID:  r.sess.ID,
		Type:       api.EventStepStarted,
		RecipeName: r.sess.RecipeName,
		StepID:     step.ID,
		Iteration:  -1,
	})

	proceed, err := r.evalCondition(step)
	if err != nil {
		outcome := &api.StepOutcome{
			StepID:    step.ID,
			Kind:      step.Kind(),
			Iteration: -1,
			Status:    api.StepFailed,
			Error:     err.Error(),
			StartedAt: time.Now(),
		}
		r.completeStep(ctx, step, outcome)
		return
	}
	if !proceed {
		outcome := &api.StepOutcome{
			StepID:    step.ID,
			Kind:      step.Kind(),
			Iteration: -1,
			Status:    api.StepSkipped,
			StartedAt: time.Now(),
		}
		r.completeStep(ctx, step, outcome)
		return
	}

	var outcome *api.StepOutcome
	if step.Foreach != "" {
		outcome = r.runForeach(ctx, step)
	} else {
		var value any
		var handle string
		outcome, value, handle = r.executeInstance(ctx, step, nil, -1)
		if outcome != nil && outcome.Status == api.StepSucceeded {
			if err := r.bindOutputs(step, outcome, value, handle); err != nil {
				outcome.Status = api.StepFailed
				outcome.Error = err.Error()
			}
		}
	}

	// A nil outcome means the instance was cancelled mid-flight; the step
	// stays pending so a resume re-dispatches it.
	if outcome == nil {
		r.setStatus(step.ID, api.StepPending)
		return
	}
	r.completeStep(ctx, step, outcome)
}

func (r *run) evalCondition(step *api.Step) (bool, error) {
	if step.Condition == "" {
		return true, nil
	}
	ok, err := expr.EvaluateCondition(step.Condition, r.vars.LookupWith(nil))
	if err != nil {
		return false, api.NewValidationError(step.ID, "condition: %v", err)
	}
	return ok, nil
}

// bindOutputs writes a succeeded instance's results into the context.
func (r *run) bindOutputs(step *api.Step, outcome *api.StepOutcome, value any, handle string) error {
	if step.Output != "" {
		if err := r.vars.Set(step.Output, value); err != nil {
			return api.NewValidationError(step.ID, "binding output: %v", err)
		}
		if handle != "" {
			meta := map[string]any{"session_handle": handle}
			if err := r.vars.Set(step.Output+"_meta", meta); err != nil {
				return api.NewValidationError(step.ID, "binding output meta: %v", err)
			}
		}
	}
	if step.OutputStderr != "" {
		if err := r.vars.Set(step.OutputStderr, outcome.Stderr); err != nil {
			return api.NewValidationError(step.ID, "binding output_stderr: %v", err)
		}
	}
	if step.OutputExitCode != "" {
		if err := r.vars.Set(step.OutputExitCode, float64(outcome.ExitCode)); err != nil {
			return api.NewValidationError(step.ID, "binding output_exit_code: %v", err)
		}
	}
	return nil
}

// completeStep records the graph-level outcome, applies the failure policy,
// checkpoints, and notifies observers.
func (r *run) completeStep(ctx context.Context, step *api.Step, outcome *api.StepOutcome) {
	r.mu.Lock()
	r.status[step.ID] = outcome.Status
	r.sess.Outcomes[api.OutcomeKey(step.ID, -1)] = outcome

	if outcome.Status == api.StepFailed {
		switch step.ErrorPolicy() {
		case api.OnErrorFail:
			if r.failed == nil {
				r.failed = &stepFailure{stepID: step.ID, reason: outcome.Error}
			}
		case api.OnErrorSkipRemaining:
			r.skip = true
		case api.OnErrorContinue:
			// Tolerated; dependents still run.
		}
	}
	r.mu.Unlock()

	r.checkpoint(ctx)
	r.notifyStep(ctx, outcome)
}

// skipPending marks every still-pending step skipped after a skip_remaining
// policy fired.
func (r *run) skipPending(ctx context.Context) {
	r.mu.Lock()
	var skipped []*api.StepOutcome
	for _, step := range r.recipe.Steps {
		if r.status[step.ID] != api.StepPending {
			continue
		}
		r.status[step.ID] = api.StepSkipped
		o := &api.StepOutcome{
			StepID:    step.ID,
			Kind:      step.Kind(),
			Iteration: -1,
			Status:    api.StepSkipped,
			StartedAt: time.Now(),
		}
		r.sess.Outcomes[api.OutcomeKey(step.ID, -1)] = o
		skipped = append(skipped, o)
	}
	r.mu.Unlock()

	r.checkpoint(ctx)
	for _, o := range skipped {
		r.notifyStep(ctx, o)
	}
}

func (r *run) notifyStep(ctx context.Context, outcome *api.StepOutcome) {
	typ := api.EventStepCompleted
	switch outcome.Status {
	case api.StepFailed:
		typ = api.EventStepFailed
	case api.StepSkipped:
		typ = api.EventStepSkipped
	}
	r.eng.appendEvent(ctx, api.SessionEvent{
		SessionID:  r.sess.ID,
		Type:       typ,
		RecipeName: r.sess.RecipeName,
		StepID:     outcome.StepID,
		Iteration:  outcome.Iteration,
		Detail:     outcome.Error,
	})
	r.eng.observer.OnStepCompleted(ctx, r.sess, outcome)
}

// checkpoint snapshots the context and outcomes under the next sequence
// number and persists both the checkpoint and the session row. Snapshotting
// AND persisting happen under the lock: parallel iterations checkpoint
// concurrently, and persisting outside it would let the session row
// transiently regress to an older sequence.
func (r *run) checkpoint(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sess.Seq++
	r.sess.Context = r.vars.Snapshot()
	r.sess.UpdatedAt = time.Now()

	outcomes := make(map[string]*api.StepOutcome, len(r.sess.Outcomes))
	for k, v := range r.sess.Outcomes {
		copied := *v
		outcomes[k] = &copied
	}
	cp := &persistence.Checkpoint{
		SessionID: r.sess.ID,
		Seq:       r.sess.Seq,
		Context:   r.sess.Context,
		Outcomes:  outcomes,
		TakenAt:   r.sess.UpdatedAt,
	}
	snap := *r.sess
	snap.Outcomes = outcomes

	// Persist with a background-derived context so an aborted session still
	// records its final state.
	pctx := context.WithoutCancel(ctx)
	_ = r.eng.store.SaveCheckpoint(pctx, cp)
	_ = r.eng.store.UpdateSession(pctx, &snap)
}

// finish sets the session's terminal status, persists it, and notifies.
func (r *run) finish(ctx context.Context, status api.Status, errMsg string) {
	r.mu.Lock()
	r.sess.Status = status
	r.sess.Err = errMsg
	r.sess.Context = r.vars.Snapshot()
	r.sess.UpdatedAt = time.Now()
	r.mu.Unlock()

	pctx := context.WithoutCancel(ctx)
	_ = r.eng.store.UpdateSession(pctx, r.sess)

	eventType := api.EventSessionCompleted
	switch status {
	case api.StatusPartial:
		eventType = api.EventSessionPartial
	case api.StatusFailed:
		eventType = api.EventSessionFailed
	case api.StatusAborted:
		eventType = api.EventSessionAborted
	}
	r.eng.appendEvent(pctx, api.SessionEvent{
		SessionID:  r.sess.ID,
		Type:       eventType,
		RecipeName: r.sess.RecipeName,
		Iteration:  -1,
		Detail:     errMsg,
	})

	switch status {
	case api.StatusCompleted, api.StatusPartial:
		r.eng.observer.OnSessionCompleted(pctx, r.sess)
	default:
		r.eng.observer.OnSessionFailed(pctx, r.sess, &stepFailure{reason: errMsg})
	}
}

// stepFailure carries a failed step's identity into the session error.
type stepFailure struct {
	stepID string
	reason string
}

func (f *stepFailure) Error() string {
	if f.stepID == "" {
		return f.reason
	}
	return "step " + f.stepID + ": " + f.reason
}
