// Package dispatch provides the adapters that execute nexus-router tool
// calls.
//
// Adapters implement the transport layer for tool calls: the router decides
// what to call, the adapter decides how to call it. Failures surface through
// a strict two-class taxonomy: OperationalError for expected failures the
// router can skip past, BugError for defects that fail the entire run. Any
// other error (or panic) escaping an adapter is collapsed into a bug at the
// router boundary.
package dispatch

import "context"

// Adapter executes one tool call.
//
// Call must return a JSON object (never nil on success) or fail with an
// *OperationalError or *BugError. Tool and method are opaque identifiers.
// Implementations must be safe for sequential reuse across runs; the router
// holds one adapter per run.
type Adapter interface {
	// AdapterID returns the stable identifier for this adapter instance.
	// For derived IDs the same configuration produces the same ID across
	// runs and processes.
	AdapterID() string

	// Call executes a tool call and returns the result object.
	Call(ctx context.Context, tool, method string, args map[string]any) (map[string]any, error)
}
