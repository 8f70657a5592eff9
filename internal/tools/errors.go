package tools

import (
	"errors"
	"fmt"
)

// ToolErrorType classifies why a tool call failed.
type ToolErrorType string

const (
	ToolErrorNotFound    ToolErrorType = "not_found"
	ToolErrorInvalidArgs ToolErrorType = "invalid_args"
	ToolErrorTimeout     ToolErrorType = "timeout"
	ToolErrorPanic       ToolErrorType = "panic"
	ToolErrorExecution   ToolErrorType = "execution"
	ToolErrorCancelled   ToolErrorType = "cancelled"
)

// ErrToolTimeout is the sentinel wrapped by a ToolError of type
// ToolErrorTimeout.
var ErrToolTimeout = errors.New("tools: execution timed out")

// ToolError is a structured error from tool dispatch, always carrying the
// originating tool call id so the agent loop can synthesize a tool_result
// message even when execution never produced one.
type ToolError struct {
	ToolName   string
	ToolCallID string
	Type       ToolErrorType
	Message    string
	Cause      error
}

// NewToolError wraps cause as an execution-type ToolError for the given tool.
func NewToolError(toolName string, cause error) *ToolError {
	return &ToolError{ToolName: toolName, Type: ToolErrorExecution, Cause: cause}
}

func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func (e *ToolError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("tool %q [%s]: %s", e.ToolName, e.Type, msg)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// IsToolRetryable reports whether a failed execution is worth retrying.
// Crashes and invalid-argument errors are not: the tool will panic or reject
// the call identically on a second attempt.
func IsToolRetryable(err error) bool {
	te, ok := GetToolError(err)
	if !ok {
		return false
	}
	switch te.Type {
	case ToolErrorTimeout, ToolErrorExecution:
		return true
	default:
		return false
	}
}

// GetToolError extracts a *ToolError via errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
