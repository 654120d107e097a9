package faults

import (
	"errors"
	"fmt"
)

// CodedError is the structured error the engine components return for
// expected failures. Code is a stable machine-readable identifier
// (e.g. CHOICE_FUNCTION_NOT_FOUND); Type places the failure in the taxonomy
// without a keyword scan.
type CodedError struct {
	Code    string
	Type    Type
	Message string

	// Optional correlation back to a specific tool call.
	ToolCallID   string
	FunctionName string
}

// New constructs a CodedError.
func New(typ Type, code, format string, args ...any) *CodedError {
	return &CodedError{
		Code:    code,
		Type:    typ,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	return e.Message
}

// WithCall returns a copy annotated with tool-call correlation fields.
func (e *CodedError) WithCall(toolCallID, functionName string) *CodedError {
	clone := *e
	clone.ToolCallID = toolCallID
	clone.FunctionName = functionName
	return &clone
}

// AsCoded reports whether err is (or wraps) a CodedError, assigning it to target.
func AsCoded(err error, target **CodedError) bool {
	return errors.As(err, target)
}
