// Package nexusrouter is the public tool surface of the nexus-router
// orchestrator.
//
// Three operations are exposed, matching the tool IDs below: Run executes a
// plan and records its audit event stream, Inspect summarizes stored runs,
// and Replay reconstructs a run from its events and checks the structural
// invariants. Each call opens the SQLite store at the request's database
// path and closes it before returning; the default path ":memory:" is
// ephemeral and only useful for single-call experiments.
//
// Request validation against the published JSON schemas happens in the host:
// plug a Validator in with WithValidator and the schema-name constants.
package nexusrouter

import (
	"context"
	"fmt"

	"github.com/nexus-io/nexus-router/internal/dispatch"
	"github.com/nexus-io/nexus-router/internal/inspect"
	"github.com/nexus-io/nexus-router/internal/replay"
	"github.com/nexus-io/nexus-router/internal/router"
	"github.com/nexus-io/nexus-router/internal/run"
	"github.com/nexus-io/nexus-router/internal/storage"
)

// Tool IDs under which the operations are registered with a host.
const (
	ToolIDRun     = "nexus-router.run"
	ToolIDInspect = "nexus-router.inspect"
	ToolIDReplay  = "nexus-router.replay"
)

// Published schema names for host-side request validation.
const (
	SchemaRunRequest     = "nexus-router.run.request.v0.1"
	SchemaInspectRequest = "nexus-router.inspect.request.v0.2"
	SchemaReplayRequest  = "nexus-router.replay.request.v0.2"
)

// DefaultDBPath is the ephemeral in-memory store.
const DefaultDBPath = storage.MemoryPath

// Core domain types, re-exported for callers outside the module.
type (
	Request    = run.Request
	Response   = run.Response
	PlanStep   = run.PlanStep
	Call       = run.Call
	Policy     = run.Policy
	Mode       = run.Mode
	Status     = run.Status
	StepResult = run.StepResult
)

// Execution modes and run states.
const (
	ModeDryRun = run.ModeDryRun
	ModeApply  = run.ModeApply

	StatusRunning   = run.StatusRunning
	StatusCompleted = run.StatusCompleted
	StatusFailed    = run.StatusFailed
)

// Adapter types and constructors, re-exported so hosts can wire real tool
// backends without reaching into internal packages.
type (
	Adapter           = dispatch.Adapter
	NullAdapter       = dispatch.NullAdapter
	FakeAdapter       = dispatch.FakeAdapter
	SubprocessAdapter = dispatch.SubprocessAdapter
	SubprocessOption  = dispatch.SubprocessOption
)

//nolint:gochecknoglobals // Intentional re-exports of constructors.
var (
	NewNullAdapter       = dispatch.NewNullAdapter
	NewFakeAdapter       = dispatch.NewFakeAdapter
	NewSubprocessAdapter = dispatch.NewSubprocessAdapter
	DeriveAdapterID      = dispatch.DeriveAdapterID

	WithSubprocessID      = dispatch.WithAdapterID
	WithSubprocessTimeout = dispatch.WithTimeout
	WithWorkDir           = dispatch.WithWorkDir
	WithEnv               = dispatch.WithEnv
	WithCaptureLimit      = dispatch.WithCaptureLimit
	WithRateLimit         = dispatch.WithRateLimit
)

// Read-side result types.
type (
	InspectReport = inspect.Report
	RunSummary    = inspect.RunSummary
	ReplayResult  = replay.Result
	RunView       = replay.RunView
	Violation     = replay.Violation
)

type (
	// Validator checks a request document against a named schema. Hosts
	// supply an implementation backed by the published JSON schemas; the
	// zero configuration skips validation entirely.
	Validator interface {
		Validate(schemaName string, document any) error
	}

	// InspectRequest selects and pages the runs to summarize.
	InspectRequest struct {
		DBPath string `json:"db_path"`
		RunID  string `json:"run_id,omitempty"`
		Status string `json:"status,omitempty"`
		Since  string `json:"since,omitempty"`
		Limit  int    `json:"limit,omitempty"`
		Offset int    `json:"offset,omitempty"`
	}

	// ReplayRequest names the run to reconstruct. Strict defaults to true;
	// set it explicitly to false to get ok=true alongside the violation
	// list.
	ReplayRequest struct {
		DBPath string `json:"db_path"`
		RunID  string `json:"run_id"`
		Strict *bool  `json:"strict,omitempty"`
	}

	// RunOption configures a single Run call.
	RunOption func(*runConfig)

	runConfig struct {
		dbPath    string
		adapter   dispatch.Adapter
		validator Validator
	}
)

// WithDBPath stores the run at path instead of the ephemeral default.
func WithDBPath(path string) RunOption {
	return func(c *runConfig) {
		c.dbPath = path
	}
}

// WithAdapter dispatches apply-mode tool calls through adapter. Dry runs
// always use the null adapter regardless of this option.
func WithAdapter(adapter dispatch.Adapter) RunOption {
	return func(c *runConfig) {
		c.adapter = adapter
	}
}

// WithValidator validates the request against SchemaRunRequest before
// executing it.
func WithValidator(validator Validator) RunOption {
	return func(c *runConfig) {
		c.validator = validator
	}
}

// Run executes one request and returns the aggregated response. The store is
// opened for the duration of the call; pass WithDBPath to persist runs
// across calls.
func Run(ctx context.Context, req *Request, opts ...RunOption) (*Response, error) {
	cfg := &runConfig{dbPath: DefaultDBPath}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.validator != nil {
		if err := cfg.validator.Validate(SchemaRunRequest, req); err != nil {
			return nil, fmt.Errorf("invalid run request: %w", err)
		}
	}

	store, err := storage.Open(cfg.dbPath)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = store.Close()
	}()

	return router.New(store, cfg.adapter).Run(ctx, req)
}

// Inspect summarizes stored runs per the request's filter and paging.
func Inspect(ctx context.Context, req *InspectRequest) (*InspectReport, error) {
	store, err := storage.Open(req.DBPath)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = store.Close()
	}()

	filter := run.Filter{
		RunID:  req.RunID,
		Status: run.Status(req.Status),
		Since:  req.Since,
	}

	return inspect.Inspect(ctx, store, filter, req.Limit, req.Offset)
}

// Replay reconstructs the named run and reports invariant violations.
func Replay(ctx context.Context, req *ReplayRequest) (*ReplayResult, error) {
	store, err := storage.Open(req.DBPath)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = store.Close()
	}()

	strict := true
	if req.Strict != nil {
		strict = *req.Strict
	}

	return replay.Replay(ctx, store, req.RunID, strict)
}
