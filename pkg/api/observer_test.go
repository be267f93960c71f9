package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	NoopObserver
	starts, completes, fails, stepStarts, stepDone int
}

func (c *countingObserver) OnSessionStart(ctx context.Context, sess *Session)     { c.starts++ }
func (c *countingObserver) OnSessionCompleted(ctx context.Context, sess *Session) { c.completes++ }
func (c *countingObserver) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	c.fails++
}
func (c *countingObserver) OnStepStart(ctx context.Context, sess *Session, id string, i int) {
	c.stepStarts++
}
func (c *countingObserver) OnStepCompleted(ctx context.Context, sess *Session, o *StepOutcome) {
	c.stepDone++
}

func TestNewCompositeObserver(t *testing.T) {
	t.Parallel()

	t.Run("empty is noop", func(t *testing.T) {
		t.Parallel()
		require.IsType(t, NoopObserver{}, NewCompositeObserver())
		require.IsType(t, NoopObserver{}, NewCompositeObserver(nil, nil))
	})

	t.Run("single is passthrough", func(t *testing.T) {
		t.Parallel()
		c := &countingObserver{}
		require.Same(t, Observer(c), NewCompositeObserver(nil, c))
	})

	t.Run("fans out", func(t *testing.T) {
		t.Parallel()
		a := &countingObserver{}
		b := &countingObserver{}
		obs := NewCompositeObserver(a, nil, b)

		ctx := context.Background()
		sess := &Session{ID: "s"}
		obs.OnSessionStart(ctx, sess)
		obs.OnStepStart(ctx, sess, "step", -1)
		obs.OnStepCompleted(ctx, sess, &StepOutcome{StepID: "step"})
		obs.OnSessionFailed(ctx, sess, errors.New("boom"))
		obs.OnSessionCompleted(ctx, sess)

		for _, c := range []*countingObserver{a, b} {
			require.Equal(t, 1, c.starts)
			require.Equal(t, 1, c.stepStarts)
			require.Equal(t, 1, c.stepDone)
			require.Equal(t, 1, c.fails)
			require.Equal(t, 1, c.completes)
		}
	})
}

func TestBasicMetrics(t *testing.T) {
	t.Parallel()

	m := &BasicMetrics{}
	ctx := context.Background()
	sess := &Session{ID: "s"}

	m.OnSessionStart(ctx, sess)
	m.OnSessionStart(ctx, sess)
	m.OnSessionCompleted(ctx, sess)
	m.OnSessionFailed(ctx, sess, errors.New("boom"))

	m.OnStepCompleted(ctx, sess, &StepOutcome{Status: StepSucceeded, Duration: 100 * time.Millisecond})
	m.OnStepCompleted(ctx, sess, &StepOutcome{Status: StepSucceeded, Duration: 300 * time.Millisecond})
	m.OnStepCompleted(ctx, sess, &StepOutcome{Status: StepFailed})
	m.OnStepCompleted(ctx, sess, &StepOutcome{Status: StepSkipped})

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.SessionsStarted)
	require.Equal(t, int64(1), snap.SessionsCompleted)
	require.Equal(t, int64(1), snap.SessionsFailed)
	require.Equal(t, int64(2), snap.StepsSucceeded)
	require.Equal(t, int64(1), snap.StepsFailed)
	require.Equal(t, int64(1), snap.StepsSkipped)
	require.Equal(t, 200*time.Millisecond, snap.AvgStepDuration)
}
