// Package inspect builds read-only summaries of stored runs.
//
// The inspector derives everything from the run table and the event log; it
// never mutates the store and never re-executes anything.
package inspect

import (
	"context"

	"github.com/nexus-io/nexus-router/internal/run"
)

// DefaultLimit bounds the number of runs summarized when the caller does not
// specify one.
const DefaultLimit = 50

type (
	// RunSummary is the per-run digest exposed by the inspector.
	RunSummary struct {
		RunID             string   `json:"run_id"`
		Mode              run.Mode `json:"mode"`
		Goal              string   `json:"goal"`
		Status            string   `json:"status"`
		CreatedAt         string   `json:"created_at"`
		StepsPlanned      int      `json:"steps_planned"`
		StepsExecuted     int      `json:"steps_executed"`
		ToolsUsed         []string `json:"tools_used"`
		Outcome           string   `json:"outcome,omitempty"`
		LastFailureReason string   `json:"last_failure_reason,omitempty"`
	}

	// Report aggregates store-wide counts with per-run summaries, newest
	// first.
	Report struct {
		Summary run.Counts   `json:"summary"`
		Runs    []RunSummary `json:"runs"`
	}

	// Store is the read-only slice of run.Store that inspection needs.
	Store interface {
		ListRuns(ctx context.Context, filter run.Filter, limit, offset int) ([]*run.Run, error)
		CountRuns(ctx context.Context, filter run.Filter) (*run.Counts, error)
		ReadEvents(ctx context.Context, runID string) ([]*run.StoredEvent, error)
	}
)

// Inspect summarizes stored runs matching filter, newest first, skipping
// offset rows. A limit <= 0 falls back to DefaultLimit. Counts ignore limit
// and offset and cover every matching run.
func Inspect(ctx context.Context, store Store, filter run.Filter, limit, offset int) (*Report, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if offset < 0 {
		offset = 0
	}

	counts, err := store.CountRuns(ctx, filter)
	if err != nil {
		return nil, err
	}

	runs, err := store.ListRuns(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	summaries := make([]RunSummary, 0, len(runs))

	for _, record := range runs {
		events, err := store.ReadEvents(ctx, record.RunID)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, summarize(record, events))
	}

	return &Report{Summary: *counts, Runs: summaries}, nil
}

// summarize folds one run's events into its summary row.
func summarize(record *run.Run, events []*run.StoredEvent) RunSummary {
	summary := RunSummary{
		RunID:     record.RunID,
		Mode:      record.Mode,
		Goal:      record.Goal,
		Status:    string(record.Status),
		CreatedAt: record.CreatedAt,
		ToolsUsed: []string{},
	}

	for _, event := range events {
		switch event.Type {
		case run.EventPlanCreated:
			if plan, ok := event.Payload["plan"].([]any); ok {
				summary.StepsPlanned = len(plan)
			}

		case run.EventStepStarted:
			summary.StepsExecuted++

		case run.EventToolCallRequested:
			if method := callMethod(event.Payload); method != "" {
				summary.ToolsUsed = appendDistinct(summary.ToolsUsed, method)
			}

		case run.EventRunCompleted:
			summary.Outcome = "ok"

		case run.EventRunFailed:
			summary.Outcome = "error"

			if reason, ok := event.Payload["reason"].(string); ok {
				summary.LastFailureReason = reason
			}
		}
	}

	return summary
}

// appendDistinct appends value unless already present, preserving first-seen
// order.
func appendDistinct(values []string, value string) []string {
	for _, seen := range values {
		if seen == value {
			return values
		}
	}

	return append(values, value)
}

func callMethod(payload run.Payload) string {
	call, ok := payload["call"].(map[string]any)
	if !ok {
		return ""
	}

	method, _ := call["method"].(string)

	return method
}
