// Package run provides the nexus-router domain model and event persistence
// interface.
//
// This package defines the Store interface which represents what the domain
// needs for run and event persistence, following the Dependency Inversion
// Principle. Concrete implementations (SQLite, in-memory) live in the
// internal/storage package.
package run

// Mode selects how a run executes its plan.
type Mode string

// Execution modes.
const (
	// ModeDryRun simulates every tool call through placeholder outputs.
	ModeDryRun Mode = "dry_run"
	// ModeApply executes tool calls through the configured adapter.
	ModeApply Mode = "apply"
)

// Valid reports whether m is one of the known execution modes.
func (m Mode) Valid() bool {
	return m == ModeDryRun || m == ModeApply
}

// Status is the lifecycle state of a run. A run is created RUNNING and
// transitions exactly once to COMPLETED or FAILED.
type Status string

// Run lifecycle states.
const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether s is one of the known run states.
func (s Status) Valid() bool {
	return s == StatusRunning || s == StatusCompleted || s == StatusFailed
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is the persisted record of one plan execution.
type Run struct {
	RunID     string `json:"run_id"`
	Mode      Mode   `json:"mode"`
	Goal      string `json:"goal"`
	Status    Status `json:"status"`
	CreatedAt string `json:"created_at"` // RFC 3339, UTC
}

// Call identifies one tool invocation. Tool and method are opaque
// identifiers from the router's perspective; the adapter decides what they
// mean.
type Call struct {
	Tool   string         `json:"tool"`
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

// PlanStep is one element of an ordered plan.
type PlanStep struct {
	StepID string `json:"step_id"`
	Intent string `json:"intent"`
	Call   Call   `json:"call"`
}

// Policy gates apply-mode execution. Additional fields are additive.
type Policy struct {
	AllowApply bool `json:"allow_apply"`
}

// Request is a validated run request. Schema validation happens at the host
// boundary before the request reaches the router; the router assumes the
// shape is well-formed.
type Request struct {
	Goal         string     `json:"goal"`
	Mode         Mode       `json:"mode"`
	Policy       *Policy    `json:"policy,omitempty"`
	PlanOverride []PlanStep `json:"plan_override"`
}

// RunRef identifies the run a response belongs to.
type RunRef struct {
	RunID string `json:"run_id"`
}

// Summary aggregates the outcome of one run.
//
// OutputsApplied counts successful steps in apply mode; OutputsSkipped
// counts steps that failed with an operational error and were skipped.
type Summary struct {
	Mode           Mode   `json:"mode"`
	AdapterID      string `json:"adapter_id"`
	OutputsApplied int    `json:"outputs_applied"`
	OutputsSkipped int    `json:"outputs_skipped"`
	Outcome        string `json:"outcome"` // "ok" or "error"
}

// StepResult is the per-step slice of a run response.
type StepResult struct {
	StepID    string         `json:"step_id"`
	Status    string         `json:"status"` // "ok" or "error"
	Output    map[string]any `json:"output,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Simulated bool           `json:"simulated,omitempty"`
}

// Response is the result of one router execution.
type Response struct {
	Run     RunRef       `json:"run"`
	Summary Summary      `json:"summary"`
	Results []StepResult `json:"results"`
}

// Filter narrows run listings and counts. Zero values mean "no constraint".
type Filter struct {
	// RunID restricts the result to a single run.
	RunID string
	// Status restricts results to runs in the given state.
	Status Status
	// Since is the minimum created_at timestamp (RFC 3339), inclusive.
	Since string
}

// Counts holds aggregate run counts under a filter predicate.
type Counts struct {
	Total     int `json:"runs_total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}
