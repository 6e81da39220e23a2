package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-io/nexus-router/internal/run"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()

	store, err := Open(MemoryPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestOpen_InMemory(t *testing.T) {
	store, err := Open(MemoryPath)

	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, store.Close())
}

func TestOpen_FileBacked(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nexus.db")

	store, err := Open(dbPath)
	require.NoError(t, err)

	runID, err := store.CreateRun(context.Background(), run.ModeDryRun, "persisted goal")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen: the run must survive.
	reopened, err := Open(dbPath)
	require.NoError(t, err)

	defer func() {
		_ = reopened.Close()
	}()

	record, err := reopened.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "persisted goal", record.Goal)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")

	require.ErrorIs(t, err, ErrDBPathEmpty)
}

func TestEventStore_Close_Idempotent(t *testing.T) {
	store, err := Open(MemoryPath)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestEventStore_CreateRun(t *testing.T) {
	store := newTestStore(t)

	runID, err := store.CreateRun(context.Background(), run.ModeDryRun, "list pods")

	require.NoError(t, err)
	require.NotEmpty(t, runID)

	record, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runID, record.RunID)
	assert.Equal(t, run.ModeDryRun, record.Mode)
	assert.Equal(t, "list pods", record.Goal)
	assert.Equal(t, run.StatusRunning, record.Status)
	assert.NotEmpty(t, record.CreatedAt)
}

func TestEventStore_GetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "no-such-run")

	require.ErrorIs(t, err, run.ErrRunNotFound)
}

func TestEventStore_Append_SequencesFromZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		eventID, err := store.Append(ctx, runID, run.EventStepStarted, run.Payload{"index": i})
		require.NoError(t, err)
		require.NotEmpty(t, eventID)
	}

	events, err := store.ReadEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 5)

	for i, event := range events {
		assert.Equal(t, int64(i), event.Seq)
	}
}

func TestEventStore_Append_IndependentSequencesPerRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateRun(ctx, run.ModeDryRun, "first")
	require.NoError(t, err)

	second, err := store.CreateRun(ctx, run.ModeDryRun, "second")
	require.NoError(t, err)

	_, err = store.Append(ctx, first, run.EventRunStarted, nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, first, run.EventPlanCreated, nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, second, run.EventRunStarted, nil)
	require.NoError(t, err)

	firstEvents, err := store.ReadEvents(ctx, first)
	require.NoError(t, err)
	require.Len(t, firstEvents, 2)
	assert.Equal(t, int64(0), firstEvents[0].Seq)
	assert.Equal(t, int64(1), firstEvents[1].Seq)

	secondEvents, err := store.ReadEvents(ctx, second)
	require.NoError(t, err)
	require.Len(t, secondEvents, 1)
	assert.Equal(t, int64(0), secondEvents[0].Seq)
}

func TestEventStore_Append_UnknownRun(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Append(context.Background(), "no-such-run", run.EventRunStarted, nil)

	require.ErrorIs(t, err, run.ErrRunNotFound)
}

func TestEventStore_Append_PayloadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeApply, "goal")
	require.NoError(t, err)

	_, err = store.Append(ctx, runID, run.EventToolCallRequested, run.Payload{
		"step_id": "s1",
		"call": map[string]any{
			"tool":   "k8s",
			"method": "pods.list",
			"args":   map[string]any{"namespace": "default"},
		},
	})
	require.NoError(t, err)

	events, err := store.ReadEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, run.EventToolCallRequested, event.Type)
	assert.Equal(t, "s1", event.Payload["step_id"])

	call, ok := event.Payload["call"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pods.list", call["method"])
}

func TestEventStore_Append_NilPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	_, err = store.Append(ctx, runID, run.EventRunStarted, nil)
	require.NoError(t, err)

	events, err := store.ReadEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Payload)
}

func TestEventStore_SetRunStatus_Completed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	require.NoError(t, store.SetRunStatus(ctx, runID, run.StatusCompleted))

	record, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, record.Status)
}

func TestEventStore_SetRunStatus_SameTerminalIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	require.NoError(t, store.SetRunStatus(ctx, runID, run.StatusFailed))
	require.NoError(t, store.SetRunStatus(ctx, runID, run.StatusFailed))
}

func TestEventStore_SetRunStatus_TerminalToDifferentTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	require.NoError(t, store.SetRunStatus(ctx, runID, run.StatusCompleted))

	err = store.SetRunStatus(ctx, runID, run.StatusFailed)
	require.ErrorIs(t, err, run.ErrInvalidTransition)
}

func TestEventStore_SetRunStatus_NonTerminalTarget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	err = store.SetRunStatus(ctx, runID, run.StatusRunning)
	require.ErrorIs(t, err, run.ErrInvalidTransition)
}

func TestEventStore_SetRunStatus_UnknownRun(t *testing.T) {
	store := newTestStore(t)

	err := store.SetRunStatus(context.Background(), "no-such-run", run.StatusCompleted)

	require.ErrorIs(t, err, run.ErrRunNotFound)
}

func TestEventStore_ReadEvents_UnknownRun(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ReadEvents(context.Background(), "no-such-run")

	require.ErrorIs(t, err, run.ErrRunNotFound)
}

func TestEventStore_ReadEvents_EmptyRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	events, err := store.ReadEvents(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventStore_ListRuns_FilterByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	completed, err := store.CreateRun(ctx, run.ModeDryRun, "done")
	require.NoError(t, err)
	require.NoError(t, store.SetRunStatus(ctx, completed, run.StatusCompleted))

	_, err = store.CreateRun(ctx, run.ModeDryRun, "still running")
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx, run.Filter{Status: run.StatusCompleted}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, completed, runs[0].RunID)
}

func TestEventStore_ListRuns_FilterByRunID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	target, err := store.CreateRun(ctx, run.ModeDryRun, "target")
	require.NoError(t, err)

	_, err = store.CreateRun(ctx, run.ModeDryRun, "other")
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx, run.Filter{RunID: target}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "target", runs[0].Goal)
}

func TestEventStore_ListRuns_Pagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
		require.NoError(t, err)
	}

	page, err := store.ListRuns(ctx, run.Filter{}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := store.ListRuns(ctx, run.Filter{}, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)

	// Pages must not overlap.
	seen := map[string]bool{}
	for _, record := range append(page, rest...) {
		assert.False(t, seen[record.RunID])
		seen[record.RunID] = true
	}
}

func TestEventStore_ListRuns_ClampsNegativeOffset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRun(ctx, run.ModeDryRun, "goal")
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx, run.Filter{}, 10, -3)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestEventStore_CountRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	completed, err := store.CreateRun(ctx, run.ModeDryRun, "a")
	require.NoError(t, err)
	require.NoError(t, store.SetRunStatus(ctx, completed, run.StatusCompleted))

	failed, err := store.CreateRun(ctx, run.ModeApply, "b")
	require.NoError(t, err)
	require.NoError(t, store.SetRunStatus(ctx, failed, run.StatusFailed))

	_, err = store.CreateRun(ctx, run.ModeDryRun, "c")
	require.NoError(t, err)

	counts, err := store.CountRuns(ctx, run.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 1, counts.Running)
}

func TestEventStore_CountRuns_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	counts, err := store.CountRuns(context.Background(), run.Filter{})

	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total)
	assert.Equal(t, 0, counts.Completed)
	assert.Equal(t, 0, counts.Failed)
	assert.Equal(t, 0, counts.Running)
}

func TestEventStore_MemoryStoresAreIsolated(t *testing.T) {
	first := newTestStore(t)
	second := newTestStore(t)
	ctx := context.Background()

	runID, err := first.CreateRun(ctx, run.ModeDryRun, "only in first")
	require.NoError(t, err)

	_, err = second.GetRun(ctx, runID)
	require.ErrorIs(t, err, run.ErrRunNotFound)
}
