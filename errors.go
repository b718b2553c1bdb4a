package relm

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Registry mutation and surfaced by the
// reconciliation loop. Use errors.Is to check.
var (
	ErrDuplicateTool       = errors.New("relm: tool with this name already registered")
	ErrToolNotFound        = errors.New("relm: tool not found")
	ErrEmptyToolName       = errors.New("relm: tool name must not be empty")
	ErrNoJSONFound         = errors.New("relm: no JSON object found in response")
	ErrInvalidJSON         = errors.New("relm: invalid JSON in response")
	ErrMaxAttemptsExceeded = errors.New("relm: maximum attempts exceeded")
)

// ExecutionError wraps an unexpected internal failure that is not part of the
// retryable model-output taxonomy: transport exhaustion on a raw generation,
// cancellation, or misuse of per-call tool registration. The original cause is
// preserved for errors.Is / errors.As.
type ExecutionError struct {
	// Op describes the operation that failed, e.g. "generate" or "register tool".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("relm: %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
