// Package router executes run requests against the event store.
//
// The router is the single writer for a run: it walks the plan in order,
// applies the policy gate, dispatches each tool call through the configured
// adapter, and emits the canonical event sequence. Operational tool failures
// are isolated to their step; bug-class failures abort the run.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nexus-io/nexus-router/internal/config"
	"github.com/nexus-io/nexus-router/internal/dispatch"
	"github.com/nexus-io/nexus-router/internal/run"
)

// Failure reasons recorded in RUN_FAILED payloads.
const (
	ReasonPolicyDenied = "policy_denied"
	ReasonAdapterBug   = "adapter_bug"
)

// provenanceVersion versions the provenance payload shape independently of
// the event schema. Additive changes only.
const provenanceVersion = "v0"

// Step and run outcome labels shared by events and responses.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// ErrInvalidMode is returned when a request carries an unknown execution
// mode. Requests are schema-validated at the host boundary, so this guards
// against programmatic misuse only.
var ErrInvalidMode = errors.New("invalid execution mode")

// Router walks a plan and emits the audit event sequence for one run.
type Router struct {
	store   run.Store
	adapter dispatch.Adapter
	null    *dispatch.NullAdapter
	logger  *slog.Logger
}

// New creates a router writing through store and dispatching through
// adapter. A nil adapter falls back to the null adapter, which makes apply
// mode behave like a simulation and is primarily useful in tests.
func New(store run.Store, adapter dispatch.Adapter) *Router {
	null := dispatch.NewNullAdapter()
	if adapter == nil {
		adapter = null
	}

	return &Router{
		store:   store,
		adapter: adapter,
		null:    null,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Run executes one request and returns the aggregated response.
//
// The observable event order is fixed: RUN_STARTED, PLAN_CREATED, then per
// step STEP_STARTED, TOOL_CALL_REQUESTED, TOOL_CALL_SUCCEEDED or
// TOOL_CALL_FAILED, STEP_COMPLETED, then PROVENANCE_EMITTED and a single
// terminal event. A returned error indicates infrastructure failure (store
// I/O), never a tool failure.
func (r *Router) Run(ctx context.Context, req *run.Request) (*run.Response, error) {
	if req == nil || !req.Mode.Valid() {
		return nil, ErrInvalidMode
	}

	runID, err := r.store.CreateRun(ctx, req.Mode, req.Goal)
	if err != nil {
		return nil, err
	}

	r.logger.Info("run started",
		slog.String("run_id", runID),
		slog.String("mode", string(req.Mode)),
		slog.Int("steps_planned", len(req.PlanOverride)),
	)

	if _, err := r.store.Append(ctx, runID, run.EventRunStarted, run.Payload{
		"mode": string(req.Mode),
		"goal": req.Goal,
	}); err != nil {
		return nil, err
	}

	if _, err := r.store.Append(ctx, runID, run.EventPlanCreated, run.Payload{
		"plan": req.PlanOverride,
	}); err != nil {
		return nil, err
	}

	adapterID := r.effectiveAdapter(req.Mode).AdapterID()

	// Policy gate: apply mode requires an explicit allow.
	if req.Mode == run.ModeApply && (req.Policy == nil || !req.Policy.AllowApply) {
		return r.failRun(ctx, runID, req, adapterID, ReasonPolicyDenied, nil)
	}

	results := make([]run.StepResult, 0, len(req.PlanOverride))
	applied, skipped := 0, 0

	for _, step := range req.PlanOverride {
		result, bug, err := r.executeStep(ctx, runID, req.Mode, step)
		if err != nil {
			return nil, err
		}

		results = append(results, *result)

		if bug {
			return r.failRun(ctx, runID, req, adapterID, ReasonAdapterBug, results)
		}

		switch {
		case result.Status == outcomeOK && req.Mode == run.ModeApply:
			applied++
		case result.Status == outcomeError:
			skipped++
		}
	}

	if _, err := r.store.Append(ctx, runID, run.EventProvenanceEmitted, run.Payload{
		"provenance": map[string]any{
			"version":         provenanceVersion,
			"mode":            string(req.Mode),
			"adapter_id":      adapterID,
			"steps_planned":   len(req.PlanOverride),
			"steps_executed":  len(results),
			"outputs_applied": applied,
			"outputs_skipped": skipped,
		},
	}); err != nil {
		return nil, err
	}

	if _, err := r.store.Append(ctx, runID, run.EventRunCompleted, run.Payload{
		"outcome": outcomeOK,
	}); err != nil {
		return nil, err
	}

	if err := r.store.SetRunStatus(ctx, runID, run.StatusCompleted); err != nil {
		return nil, err
	}

	r.logger.Info("run completed",
		slog.String("run_id", runID),
		slog.Int("outputs_applied", applied),
		slog.Int("outputs_skipped", skipped),
	)

	return &run.Response{
		Run: run.RunRef{RunID: runID},
		Summary: run.Summary{
			Mode:           req.Mode,
			AdapterID:      adapterID,
			OutputsApplied: applied,
			OutputsSkipped: skipped,
			Outcome:        outcomeOK,
		},
		Results: results,
	}, nil
}

// executeStep emits the step's event subsequence and returns its result.
// The bug flag signals that the run must abort; in that case STEP_COMPLETED
// is intentionally not emitted for the failing step.
func (r *Router) executeStep(
	ctx context.Context,
	runID string,
	mode run.Mode,
	step run.PlanStep,
) (*run.StepResult, bool, error) {
	if _, err := r.store.Append(ctx, runID, run.EventStepStarted, run.Payload{
		"step_id": step.StepID,
		"intent":  step.Intent,
	}); err != nil {
		return nil, false, err
	}

	if _, err := r.store.Append(ctx, runID, run.EventToolCallRequested, run.Payload{
		"step_id": step.StepID,
		"call":    step.Call,
	}); err != nil {
		return nil, false, err
	}

	output, callErr := r.callAdapter(ctx, mode, step.Call)

	result := run.StepResult{StepID: step.StepID, Simulated: mode == run.ModeDryRun}

	switch {
	case callErr == nil:
		if _, err := r.store.Append(ctx, runID, run.EventToolCallSucceeded, run.Payload{
			"step_id": step.StepID,
			"output":  output,
		}); err != nil {
			return nil, false, err
		}

		result.Status = outcomeOK
		result.Output = output

	default:
		opErr, operational := dispatch.AsOperational(callErr)
		if !operational {
			// Bug-class or unknown failure: record it, then abort the run.
			message := callErr.Error()
			if bugErr, ok := dispatch.AsBug(callErr); ok {
				message = bugErr.Message
			}

			if _, err := r.store.Append(ctx, runID, run.EventToolCallFailed, run.Payload{
				"step_id":    step.StepID,
				"error_code": dispatch.CodeAdapterBug,
				"message":    message,
			}); err != nil {
				return nil, false, err
			}

			result.Status = outcomeError
			result.ErrorCode = dispatch.CodeAdapterBug
			result.Message = message

			return &result, true, nil
		}

		if _, err := r.store.Append(ctx, runID, run.EventToolCallFailed, run.Payload{
			"step_id":    step.StepID,
			"error_code": opErr.Code,
			"message":    opErr.Message,
		}); err != nil {
			return nil, false, err
		}

		r.logger.Warn("tool call failed",
			slog.String("run_id", runID),
			slog.String("step_id", step.StepID),
			slog.String("error_code", opErr.Code),
		)

		result.Status = outcomeError
		result.ErrorCode = opErr.Code
		result.Message = opErr.Message
	}

	if _, err := r.store.Append(ctx, runID, run.EventStepCompleted, run.Payload{
		"step_id": step.StepID,
		"status":  result.Status,
	}); err != nil {
		return nil, false, err
	}

	return &result, false, nil
}

// callAdapter dispatches one call through the mode's effective adapter.
// Panics escaping the adapter collapse into bug errors at this boundary.
func (r *Router) callAdapter(ctx context.Context, mode run.Mode, call run.Call) (output map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			output = nil
			err = dispatch.NewBugError(dispatch.CodeAdapterBug, "adapter panic: %v", rec)
		}
	}()

	return r.effectiveAdapter(mode).Call(ctx, call.Tool, call.Method, call.Args)
}

// effectiveAdapter returns the null adapter for dry runs and the configured
// adapter otherwise.
func (r *Router) effectiveAdapter(mode run.Mode) dispatch.Adapter {
	if mode == run.ModeDryRun {
		return r.null
	}

	return r.adapter
}

// failRun emits the terminal failure event, transitions the run to FAILED,
// and builds the error response. Results may be nil when no step ran.
func (r *Router) failRun(
	ctx context.Context,
	runID string,
	req *run.Request,
	adapterID string,
	reason string,
	results []run.StepResult,
) (*run.Response, error) {
	if _, err := r.store.Append(ctx, runID, run.EventRunFailed, run.Payload{
		"reason": reason,
	}); err != nil {
		return nil, err
	}

	if err := r.store.SetRunStatus(ctx, runID, run.StatusFailed); err != nil {
		return nil, err
	}

	r.logger.Warn("run failed",
		slog.String("run_id", runID),
		slog.String("reason", reason),
	)

	if results == nil {
		results = []run.StepResult{}
	}

	skipped := 0

	for _, result := range results {
		if result.Status == outcomeError && result.ErrorCode != dispatch.CodeAdapterBug {
			skipped++
		}
	}

	return &run.Response{
		Run: run.RunRef{RunID: runID},
		Summary: run.Summary{
			Mode:           req.Mode,
			AdapterID:      adapterID,
			OutputsApplied: countApplied(req.Mode, results),
			OutputsSkipped: skipped,
			Outcome:        outcomeError,
		},
		Results: results,
	}, nil
}

func countApplied(mode run.Mode, results []run.StepResult) int {
	if mode != run.ModeApply {
		return 0
	}

	applied := 0

	for _, result := range results {
		if result.Status == outcomeOK {
			applied++
		}
	}

	return applied
}

// String renders a compact router description for diagnostics.
func (r *Router) String() string {
	return fmt.Sprintf("router(adapter=%s)", r.adapter.AdapterID())
}
