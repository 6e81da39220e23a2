package dispatch

import (
	"errors"
	"fmt"
)

// Closed set of operational error codes used by the subprocess adapter.
// Other adapters may define additional codes.
const (
	// CodeTimeout indicates the tool call exceeded its wall-clock timeout.
	CodeTimeout = "TIMEOUT"
	// CodeCommandNotFound indicates the adapter's binary does not exist.
	CodeCommandNotFound = "COMMAND_NOT_FOUND"
	// CodeOSError indicates the OS failed to spawn the subprocess.
	CodeOSError = "OS_ERROR"
	// CodeNonzeroExit indicates the subprocess exited with a non-zero code.
	CodeNonzeroExit = "NONZERO_EXIT"
	// CodeInvalidJSONOutput indicates stdout was not a single JSON object.
	CodeInvalidJSONOutput = "INVALID_JSON_OUTPUT"

	// CodeToolError is the default code for programmed fake failures.
	CodeToolError = "TOOL_ERROR"
	// CodeAdapterBug is the code the router records for bug-class failures.
	CodeAdapterBug = "ADAPTER_BUG"
)

// OperationalError is an expected failure attributable to the tool,
// transport, or inputs (timeout, non-zero exit, malformed output). The
// router records it and continues with the next step.
type OperationalError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *OperationalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewOperationalError creates an operational error with the given code.
func NewOperationalError(code, format string, args ...any) *OperationalError {
	return &OperationalError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// BugError is an unexpected failure attributable to the adapter itself.
// The router fails the entire run when it sees one.
type BugError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *BugError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBugError creates a bug error with the given code.
func NewBugError(code, format string, args ...any) *BugError {
	return &BugError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsOperational unwraps err into an OperationalError, if it is one.
func AsOperational(err error) (*OperationalError, bool) {
	var opErr *OperationalError
	if errors.As(err, &opErr) {
		return opErr, true
	}

	return nil, false
}

// AsBug unwraps err into a BugError, if it is one.
func AsBug(err error) (*BugError, bool) {
	var bugErr *BugError
	if errors.As(err, &bugErr) {
		return bugErr, true
	}

	return nil, false
}
