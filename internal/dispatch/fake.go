package dispatch

import (
	"context"
	"sync"
)

// Compile-time interface assertion.
var _ Adapter = (*FakeAdapter)(nil)

type (
	// FakeAdapter is an adapter with configurable responses for testing.
	//
	// Tests register exact outputs, computed outputs, or programmed errors
	// per (tool, method) combination, and can read back a log of every call
	// made. Safe for concurrent use.
	FakeAdapter struct {
		adapterID       string
		mu              sync.Mutex
		responses       map[callKey]responseFunc
		defaultResponse defaultResponseFunc
		callLog         []CallRecord
	}

	// CallRecord is one entry of the fake's call log.
	CallRecord struct {
		Tool   string
		Method string
		Args   map[string]any
	}

	callKey struct {
		tool   string
		method string
	}

	responseFunc        func(args map[string]any) (map[string]any, error)
	defaultResponseFunc func(tool, method string, args map[string]any) (map[string]any, error)
)

// NewFakeAdapter creates a fake adapter with the default ID "fake".
func NewFakeAdapter() *FakeAdapter {
	return NewFakeAdapterWithID("fake")
}

// NewFakeAdapterWithID creates a fake adapter with a custom ID.
func NewFakeAdapterWithID(adapterID string) *FakeAdapter {
	return &FakeAdapter{
		adapterID: adapterID,
		responses: make(map[callKey]responseFunc),
	}
}

// AdapterID implements Adapter.
func (a *FakeAdapter) AdapterID() string {
	return a.adapterID
}

// SetResponse registers a fixed response object for a (tool, method)
// combination.
func (a *FakeAdapter) SetResponse(tool, method string, response map[string]any) {
	a.SetResponseFunc(tool, method, func(_ map[string]any) (map[string]any, error) {
		return response, nil
	})
}

// SetResponseFunc registers a response computed from the call args for a
// (tool, method) combination. The function may return an error to simulate
// failures.
func (a *FakeAdapter) SetResponseFunc(tool, method string, fn responseFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.responses[callKey{tool: tool, method: method}] = fn
}

// SetDefaultResponse registers a fixed response for every unregistered
// (tool, method) combination.
func (a *FakeAdapter) SetDefaultResponse(response map[string]any) {
	a.SetDefaultResponseFunc(func(_, _ string, _ map[string]any) (map[string]any, error) {
		return response, nil
	})
}

// SetDefaultResponseFunc registers a computed response for every
// unregistered (tool, method) combination.
func (a *FakeAdapter) SetDefaultResponseFunc(fn defaultResponseFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.defaultResponse = fn
}

// SetOperationalError programs a (tool, method) combination to fail with an
// operational error.
func (a *FakeAdapter) SetOperationalError(tool, method, code, message string) {
	if code == "" {
		code = CodeToolError
	}

	errCode, errMessage := code, message
	a.SetResponseFunc(tool, method, func(_ map[string]any) (map[string]any, error) {
		return nil, &OperationalError{Code: errCode, Message: errMessage}
	})
}

// SetBugError programs a (tool, method) combination to fail with a bug
// error.
func (a *FakeAdapter) SetBugError(tool, method, code, message string) {
	if code == "" {
		code = CodeAdapterBug
	}

	errCode, errMessage := code, message
	a.SetResponseFunc(tool, method, func(_ map[string]any) (map[string]any, error) {
		return nil, &BugError{Code: errCode, Message: errMessage}
	})
}

// CallLog returns a copy of the calls made so far, in order.
func (a *FakeAdapter) CallLog() []CallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	log := make([]CallRecord, len(a.callLog))
	copy(log, a.callLog)

	return log
}

// Reset clears all configured responses and the call log.
func (a *FakeAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.responses = make(map[callKey]responseFunc)
	a.defaultResponse = nil
	a.callLog = nil
}

// Call implements Adapter by executing the configured response. Unregistered
// combinations without a default response return a placeholder object.
func (a *FakeAdapter) Call(_ context.Context, tool, method string, args map[string]any) (map[string]any, error) {
	a.mu.Lock()
	a.callLog = append(a.callLog, CallRecord{Tool: tool, Method: method, Args: args})
	fn := a.responses[callKey{tool: tool, method: method}]
	defaultFn := a.defaultResponse
	a.mu.Unlock()

	if fn != nil {
		return fn(args)
	}

	if defaultFn != nil {
		return defaultFn(tool, method, args)
	}

	if args == nil {
		args = map[string]any{}
	}

	return map[string]any{
		"fake":      true,
		"tool":      tool,
		"method":    method,
		"args_echo": args,
		"result":    nil,
	}, nil
}
