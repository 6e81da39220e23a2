package dispatch

import "context"

// Compile-time interface assertion.
var _ Adapter = (*NullAdapter)(nil)

// NullAdapter returns deterministic placeholder outputs.
//
// Used for dry_run mode (the default), testing without external
// dependencies, and development.
type NullAdapter struct {
	adapterID string
}

// NewNullAdapter creates a null adapter with the default ID "null".
func NewNullAdapter() *NullAdapter {
	return &NullAdapter{adapterID: "null"}
}

// NewNullAdapterWithID creates a null adapter with a custom ID.
func NewNullAdapterWithID(adapterID string) *NullAdapter {
	return &NullAdapter{adapterID: adapterID}
}

// AdapterID implements Adapter.
func (a *NullAdapter) AdapterID() string {
	return a.adapterID
}

// Call implements Adapter. It never fails; the placeholder echoes the tool,
// method, and args so dry runs stay inspectable.
func (a *NullAdapter) Call(_ context.Context, tool, method string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}

	return map[string]any{
		"simulated": true,
		"tool":      tool,
		"method":    method,
		"args_echo": args,
		"result":    nil,
	}, nil
}
