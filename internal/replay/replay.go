// Package replay reconstructs a run from its event log and checks the
// structural invariants the router guarantees.
//
// Replay is read-only and deterministic: folding the same event stream
// always yields the same RunView and the same violation list. The replayer
// never mutates the store and never judges tool outcomes, only event
// structure.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexus-io/nexus-router/internal/run"
)

// Violation codes (closed set).
const (
	CodeRunNotFound           = "RUN_NOT_FOUND"
	CodeNoEvents              = "NO_EVENTS"
	CodeSeqNotZero            = "SEQ_NOT_ZERO"
	CodeSeqGap                = "SEQ_GAP"
	CodeRunStartedNotFirst    = "RUN_STARTED_NOT_FIRST"
	CodePlanBeforeRunStarted  = "PLAN_BEFORE_RUN_STARTED"
	CodeToolCallWithoutStep   = "TOOL_CALL_WITHOUT_STEP"
	CodeToolResultWithoutStep = "TOOL_RESULT_WITHOUT_STEP"
	CodeStepCompletedNoStart  = "STEP_COMPLETED_WITHOUT_START"
	CodeNoRunStarted          = "NO_RUN_STARTED"
	CodeNoPlanCreated         = "NO_PLAN_CREATED"
	CodeNoTerminalEvent       = "NO_TERMINAL_EVENT"
)

type (
	// Violation is one invariant violation found during replay.
	Violation struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Seq     *int64 `json:"seq,omitempty"`
		EventID string `json:"event_id,omitempty"`
	}

	// StepTimeline records at which sequence numbers a single step's events
	// were observed.
	StepTimeline struct {
		StepID               string `json:"step_id"`
		StartedSeq           *int64 `json:"started_seq"`
		CompletedSeq         *int64 `json:"completed_seq"`
		ToolCallRequestedSeq *int64 `json:"tool_call_requested_seq"`
		ToolCallResultSeq    *int64 `json:"tool_call_result_seq"`
		Status               string `json:"status,omitempty"`
	}

	// RunView is the reconstructed view of a run folded from its events.
	RunView struct {
		RunID             string                   `json:"run_id"`
		Status            run.Status               `json:"status"`
		Outcome           string                   `json:"outcome,omitempty"`
		Mode              run.Mode                 `json:"mode"`
		Goal              string                   `json:"goal"`
		Steps             map[string]*StepTimeline `json:"steps"`
		ToolsUsed         []string                 `json:"tools_used"`
		ProvenancePresent bool                     `json:"provenance_present"`
		TerminalEventType run.EventType            `json:"terminal_event_type,omitempty"`
	}

	// Result is the outcome of a replay.
	//
	// OK is true iff the violation list is empty, unless strict was false,
	// in which case OK is true regardless; the violation list is always
	// reported.
	Result struct {
		OK         bool        `json:"ok"`
		RunView    *RunView    `json:"run_view"`
		Violations []Violation `json:"violations"`
	}

	// Store is the read-only slice of run.Store that replay needs.
	Store interface {
		GetRun(ctx context.Context, runID string) (*run.Run, error)
		ReadEvents(ctx context.Context, runID string) ([]*run.StoredEvent, error)
	}

	// fold carries the invariant-checking flags across the event stream.
	fold struct {
		seenRunStarted  bool
		seenPlanCreated bool
		seenTerminal    bool
		prevSeq         *int64
		activeSteps     map[string]int64 // step_id -> started seq
	}
)

// Replay reads runID's events from store and folds them into a RunView,
// accumulating invariant violations along the way.
//
// An unknown run yields ok=false with a single RUN_NOT_FOUND violation and a
// nil view. A returned error indicates storage I/O failure, not an invariant
// violation.
func Replay(ctx context.Context, store Store, runID string, strict bool) (*Result, error) {
	record, err := store.GetRun(ctx, runID)
	if errors.Is(err, run.ErrRunNotFound) {
		return &Result{
			OK:      false,
			RunView: nil,
			Violations: []Violation{{
				Code:    CodeRunNotFound,
				Message: fmt.Sprintf("run %s not found", runID),
			}},
		}, nil
	}

	if err != nil {
		return nil, err
	}

	events, err := store.ReadEvents(ctx, runID)
	if err != nil {
		return nil, err
	}

	view := &RunView{
		RunID:  runID,
		Status: record.Status,
		Mode:   record.Mode,
		Goal:   record.Goal,
		Steps:  make(map[string]*StepTimeline),
	}

	violations := foldEvents(events, view)

	ok := len(violations) == 0
	if !strict {
		ok = true
	}

	return &Result{OK: ok, RunView: view, Violations: violations}, nil
}

// foldEvents replays events into view and returns the violations found.
func foldEvents(events []*run.StoredEvent, view *RunView) []Violation {
	violations := []Violation{}

	if len(events) == 0 {
		return append(violations, Violation{
			Code:    CodeNoEvents,
			Message: "run has no events",
		})
	}

	state := &fold{activeSteps: make(map[string]int64)}

	for _, event := range events {
		violations = append(violations, state.checkSeq(event)...)
		violations = append(violations, state.applyEvent(event, view)...)
	}

	if !state.seenRunStarted {
		violations = append(violations, Violation{
			Code:    CodeNoRunStarted,
			Message: "RUN_STARTED event not found",
		})
	}

	if !state.seenPlanCreated {
		violations = append(violations, Violation{
			Code:    CodeNoPlanCreated,
			Message: "PLAN_CREATED event not found",
		})
	}

	if !state.seenTerminal {
		violations = append(violations, Violation{
			Code:    CodeNoTerminalEvent,
			Message: "no terminal event (RUN_COMPLETED or RUN_FAILED) found",
		})
	}

	return violations
}

// checkSeq enforces the dense-from-zero sequence invariant.
func (f *fold) checkSeq(event *run.StoredEvent) []Violation {
	var violations []Violation

	seq := event.Seq

	if f.prevSeq == nil {
		if seq != 0 {
			violations = append(violations, violationAt(CodeSeqNotZero,
				fmt.Sprintf("first event seq should be 0, got %d", seq), event))
		}
	} else if seq != *f.prevSeq+1 {
		violations = append(violations, violationAt(CodeSeqGap,
			fmt.Sprintf("expected seq %d, got %d", *f.prevSeq+1, seq), event))
	}

	f.prevSeq = &seq

	return violations
}

// applyEvent updates the view and per-type invariants for one event.
func (f *fold) applyEvent(event *run.StoredEvent, view *RunView) []Violation {
	var violations []Violation

	switch event.Type {
	case run.EventRunStarted:
		if event.Seq != 0 {
			violations = append(violations, violationAt(CodeRunStartedNotFirst,
				fmt.Sprintf("RUN_STARTED should be seq 0, found at %d", event.Seq), event))
		}

		f.seenRunStarted = true

		if mode, ok := event.Payload["mode"].(string); ok {
			view.Mode = run.Mode(mode)
		}

		if goal, ok := event.Payload["goal"].(string); ok {
			view.Goal = goal
		}

	case run.EventPlanCreated:
		if !f.seenRunStarted {
			violations = append(violations, violationAt(CodePlanBeforeRunStarted,
				"PLAN_CREATED appeared before RUN_STARTED", event))
		}

		f.seenPlanCreated = true

	case run.EventStepStarted:
		if stepID := payloadStepID(event.Payload); stepID != "" {
			timeline := view.timeline(stepID)
			timeline.StartedSeq = seqPtr(event.Seq)
			f.activeSteps[stepID] = event.Seq
		}

	case run.EventToolCallRequested:
		stepID := payloadStepID(event.Payload)
		if stepID != "" {
			if _, active := f.activeSteps[stepID]; !active {
				violations = append(violations, violationAt(CodeToolCallWithoutStep,
					fmt.Sprintf("TOOL_CALL_REQUESTED for %s without STEP_STARTED", stepID), event))
			}

			if timeline, ok := view.Steps[stepID]; ok {
				timeline.ToolCallRequestedSeq = seqPtr(event.Seq)
			}
		}

		if method := payloadCallMethod(event.Payload); method != "" {
			view.recordTool(method)
		}

	case run.EventToolCallSucceeded, run.EventToolCallFailed:
		if stepID := payloadStepID(event.Payload); stepID != "" {
			if _, active := f.activeSteps[stepID]; !active {
				violations = append(violations, violationAt(CodeToolResultWithoutStep,
					fmt.Sprintf("tool result for %s without STEP_STARTED", stepID), event))
			}

			if timeline, ok := view.Steps[stepID]; ok {
				timeline.ToolCallResultSeq = seqPtr(event.Seq)
			}
		}

	case run.EventStepCompleted:
		if stepID := payloadStepID(event.Payload); stepID != "" {
			if _, active := f.activeSteps[stepID]; !active {
				violations = append(violations, violationAt(CodeStepCompletedNoStart,
					fmt.Sprintf("STEP_COMPLETED for %s without STEP_STARTED", stepID), event))
			}

			if timeline, ok := view.Steps[stepID]; ok {
				timeline.CompletedSeq = seqPtr(event.Seq)

				if status, ok := event.Payload["status"].(string); ok {
					timeline.Status = status
				}
			}

			delete(f.activeSteps, stepID)
		}

	case run.EventProvenanceEmitted:
		view.ProvenancePresent = true

	case run.EventRunCompleted:
		f.seenTerminal = true
		view.TerminalEventType = run.EventRunCompleted
		view.Outcome = "ok"

	case run.EventRunFailed:
		f.seenTerminal = true
		view.TerminalEventType = run.EventRunFailed
		view.Outcome = "error"
	}

	return violations
}

// timeline returns the step's timeline, creating it on first sight.
func (v *RunView) timeline(stepID string) *StepTimeline {
	if timeline, ok := v.Steps[stepID]; ok {
		return timeline
	}

	timeline := &StepTimeline{StepID: stepID}
	v.Steps[stepID] = timeline

	return timeline
}

// recordTool appends a method to ToolsUsed the first time it is seen.
func (v *RunView) recordTool(method string) {
	for _, seen := range v.ToolsUsed {
		if seen == method {
			return
		}
	}

	v.ToolsUsed = append(v.ToolsUsed, method)
}

func violationAt(code, message string, event *run.StoredEvent) Violation {
	return Violation{
		Code:    code,
		Message: message,
		Seq:     seqPtr(event.Seq),
		EventID: event.EventID,
	}
}

func seqPtr(seq int64) *int64 {
	return &seq
}

func payloadStepID(payload run.Payload) string {
	stepID, _ := payload["step_id"].(string)

	return stepID
}

func payloadCallMethod(payload run.Payload) string {
	call, ok := payload["call"].(map[string]any)
	if !ok {
		return ""
	}

	method, _ := call["method"].(string)

	return method
}
