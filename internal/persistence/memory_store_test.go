package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simmerhq/simmer/pkg/api"
)

func sampleSession(id string) *api.Session {
	now := time.Now()
	return &api.Session{
		ID:         id,
		RecipeName: "deploy",
		Status:     api.StatusRunning,
		Context: map[string]any{
			"env":   "staging",
			"count": float64(2),
		},
		Outcomes: map[string]*api.StepOutcome{
			"build": {
				StepID:    "build",
				Kind:      api.StepBash,
				Iteration: -1,
				Status:    api.StepSucceeded,
				Attempts:  1,
				Stdout:    "ok",
				StartedAt: now,
				Duration:  50 * time.Millisecond,
			},
		},
		Seq:       1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInMemoryStore_SessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	sess := sampleSession("s-1")
	require.NoError(t, store.SaveSession(ctx, sess))

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "deploy", got.RecipeName)
	require.Equal(t, api.StatusRunning, got.Status)
	require.Equal(t, "staging", got.Context["env"])
	require.Equal(t, api.StepSucceeded, got.Outcomes["build"].Status)

	got.Status = api.StatusCompleted
	require.NoError(t, store.UpdateSession(ctx, got))

	updated, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, updated.Status)

	require.NoError(t, store.DeleteSession(ctx, "s-1"))
	_, err = store.GetSession(ctx, "s-1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInMemoryStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := store.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.ErrorIs(t, store.UpdateSession(ctx, sampleSession("missing")), ErrSessionNotFound)
	require.ErrorIs(t, store.DeleteSession(ctx, "missing"), ErrSessionNotFound)

	_, err = store.LatestCheckpoint(ctx, "missing")
	require.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.SaveSession(ctx, sampleSession("s-1")))

	first, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	first.Context["env"] = "mutated"
	first.Outcomes["build"].Stdout = "mutated"

	second, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "staging", second.Context["env"])
	require.Equal(t, "ok", second.Outcomes["build"].Stdout)
}

func TestInMemoryStore_ListSessionsFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	a := sampleSession("s-a")
	b := sampleSession("s-b")
	b.RecipeName = "release"
	b.Status = api.StatusFailed
	require.NoError(t, store.SaveSession(ctx, a))
	require.NoError(t, store.SaveSession(ctx, b))

	all, err := store.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	byRecipe, err := store.ListSessions(ctx, SessionFilter{RecipeName: "release"})
	require.NoError(t, err)
	require.Len(t, byRecipe, 1)
	require.Equal(t, "s-b", byRecipe[0].ID)

	byStatus, err := store.ListSessions(ctx, SessionFilter{Status: api.StatusRunning})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "s-a", byStatus[0].ID)
}

func TestInMemoryStore_LatestCheckpointWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, store.SaveCheckpoint(ctx, &Checkpoint{
			SessionID: "s-1",
			Seq:       seq,
			Context:   map[string]any{"seq": float64(seq)},
			TakenAt:   time.Now(),
		}))
	}

	cp, err := store.LatestCheckpoint(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), cp.Seq)
	require.Equal(t, float64(3), cp.Context["seq"])
}

func TestInMemoryStore_EventHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()

	require.NoError(t, store.AppendEvent(ctx, api.SessionEvent{
		SessionID: "s-1", Type: api.EventSessionStarted, RecipeName: "deploy",
	}))
	require.NoError(t, store.AppendEvent(ctx, api.SessionEvent{
		SessionID: "s-1", Type: api.EventStepCompleted, StepID: "build", Iteration: -1,
	}))
	require.NoError(t, store.AppendEvent(ctx, api.SessionEvent{
		SessionID: "other", Type: api.EventSessionStarted,
	}))

	events, err := store.ListEvents(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, api.EventSessionStarted, events[0].Type)
	require.Equal(t, "build", events[1].StepID)
}
