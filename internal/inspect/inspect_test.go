package inspect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-io/nexus-router/internal/dispatch"
	"github.com/nexus-io/nexus-router/internal/router"
	"github.com/nexus-io/nexus-router/internal/run"
	"github.com/nexus-io/nexus-router/internal/storage"
)

func newTestStore(t *testing.T) *storage.EventStore {
	t.Helper()

	store, err := storage.Open(storage.MemoryPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func runPlan(t *testing.T, store *storage.EventStore, req *run.Request, adapter dispatch.Adapter) string {
	t.Helper()

	response, err := router.New(store, adapter).Run(context.Background(), req)
	require.NoError(t, err)

	return response.Run.RunID
}

func dryRunRequest(goal string) *run.Request {
	return &run.Request{
		Goal: goal,
		Mode: run.ModeDryRun,
		PlanOverride: []run.PlanStep{
			{StepID: "s1", Intent: "list", Call: run.Call{Tool: "k8s", Method: "pods.list"}},
			{StepID: "s2", Intent: "status", Call: run.Call{Tool: "k8s", Method: "deploy.status"}},
		},
	}
}

func TestInspect_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	report, err := Inspect(context.Background(), store, run.Filter{}, 0, 0)

	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Total)
	assert.Empty(t, report.Runs)
}

func TestInspect_SummaryCounts(t *testing.T) {
	store := newTestStore(t)

	runPlan(t, store, dryRunRequest("first"), nil)
	runPlan(t, store, dryRunRequest("second"), nil)

	// Denied apply produces a FAILED run.
	runPlan(t, store, &run.Request{
		Goal:         "apply without policy",
		Mode:         run.ModeApply,
		PlanOverride: dryRunRequest("x").PlanOverride,
	}, dispatch.NewFakeAdapter())

	report, err := Inspect(context.Background(), store, run.Filter{}, 0, 0)

	require.NoError(t, err)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Completed)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.Equal(t, 0, report.Summary.Running)
	assert.Len(t, report.Runs, 3)
}

func TestInspect_DerivedFields(t *testing.T) {
	store := newTestStore(t)
	runID := runPlan(t, store, dryRunRequest("inspect cluster"), nil)

	report, err := Inspect(context.Background(), store, run.Filter{RunID: runID}, 0, 0)

	require.NoError(t, err)
	require.Len(t, report.Runs, 1)

	summary := report.Runs[0]
	assert.Equal(t, runID, summary.RunID)
	assert.Equal(t, run.ModeDryRun, summary.Mode)
	assert.Equal(t, "inspect cluster", summary.Goal)
	assert.Equal(t, "COMPLETED", summary.Status)
	assert.NotEmpty(t, summary.CreatedAt)
	assert.Equal(t, 2, summary.StepsPlanned)
	assert.Equal(t, 2, summary.StepsExecuted)
	assert.Equal(t, []string{"pods.list", "deploy.status"}, summary.ToolsUsed)
	assert.Equal(t, "ok", summary.Outcome)
	assert.Empty(t, summary.LastFailureReason)
}

func TestInspect_FailureReason(t *testing.T) {
	store := newTestStore(t)

	runID := runPlan(t, store, &run.Request{
		Goal:         "apply without policy",
		Mode:         run.ModeApply,
		PlanOverride: dryRunRequest("x").PlanOverride,
	}, dispatch.NewFakeAdapter())

	report, err := Inspect(context.Background(), store, run.Filter{RunID: runID}, 0, 0)

	require.NoError(t, err)
	require.Len(t, report.Runs, 1)

	summary := report.Runs[0]
	assert.Equal(t, "error", summary.Outcome)
	assert.Equal(t, "policy_denied", summary.LastFailureReason)
	assert.Equal(t, 0, summary.StepsExecuted)
	assert.Empty(t, summary.ToolsUsed)
}

func TestInspect_BugFailure(t *testing.T) {
	store := newTestStore(t)
	fake := dispatch.NewFakeAdapter()
	fake.SetBugError("k8s", "pods.list", "", "corrupted")

	runID := runPlan(t, store, &run.Request{
		Goal:         "apply",
		Mode:         run.ModeApply,
		Policy:       &run.Policy{AllowApply: true},
		PlanOverride: dryRunRequest("x").PlanOverride,
	}, fake)

	report, err := Inspect(context.Background(), store, run.Filter{RunID: runID}, 0, 0)

	require.NoError(t, err)
	require.Len(t, report.Runs, 1)

	summary := report.Runs[0]
	assert.Equal(t, "adapter_bug", summary.LastFailureReason)
	// The first step started before the run aborted.
	assert.Equal(t, 1, summary.StepsExecuted)
	assert.Equal(t, []string{"pods.list"}, summary.ToolsUsed)
}

func TestInspect_FilterByStatus(t *testing.T) {
	store := newTestStore(t)

	runPlan(t, store, dryRunRequest("completed run"), nil)
	runPlan(t, store, &run.Request{
		Goal:         "denied",
		Mode:         run.ModeApply,
		PlanOverride: dryRunRequest("x").PlanOverride,
	}, dispatch.NewFakeAdapter())

	report, err := Inspect(context.Background(), store, run.Filter{Status: run.StatusFailed}, 0, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Total)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, "denied", report.Runs[0].Goal)
}

func TestInspect_LimitAndOffset(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		runPlan(t, store, dryRunRequest("goal"), nil)
	}

	page, err := Inspect(context.Background(), store, run.Filter{}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page.Runs, 2)
	// Counts cover the whole store, not the page.
	assert.Equal(t, 5, page.Summary.Total)

	rest, err := Inspect(context.Background(), store, run.Filter{}, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest.Runs, 3)
}

func TestInspect_DefaultLimit(t *testing.T) {
	store := newTestStore(t)

	runPlan(t, store, dryRunRequest("goal"), nil)

	report, err := Inspect(context.Background(), store, run.Filter{}, 0, 0)

	require.NoError(t, err)
	assert.Len(t, report.Runs, 1)
}

func TestInspect_NegativeOffsetClamped(t *testing.T) {
	store := newTestStore(t)

	runPlan(t, store, dryRunRequest("goal"), nil)

	report, err := Inspect(context.Background(), store, run.Filter{}, 10, -1)

	require.NoError(t, err)
	assert.Len(t, report.Runs, 1)
}
