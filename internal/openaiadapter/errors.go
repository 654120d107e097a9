package openaiadapter

// Error represents an OpenAI-formatted error for chat completion endpoints.
// This is the standard error structure that OpenAI clients expect, extended
// with the tool-call correlation fields the gateway produces.
type Error struct {
	Message      string         `json:"message"`
	Type         string         `json:"type"`
	Code         string         `json:"code,omitempty"`
	Param        string         `json:"param,omitempty"`
	ToolCallID   string         `json:"tool_call_id,omitempty"`
	FunctionName string         `json:"function_name,omitempty"`
	ErrorContext map[string]any `json:"error_context,omitempty"`
}

// Error implements the error interface, returning the error message.
func (e *Error) Error() string {
	return e.Message
}

// ErrorResponse wraps Error in the envelope that OpenAI clients expect,
// both for JSON responses and SSE error events: {"error": {...}}
type ErrorResponse struct {
	// Err is the underlying error detail. JSON tag ensures it serializes as "error".
	Err Error `json:"error"`
}

// Error implements the error interface, returning the underlying error message.
// This allows ErrorResponse to be used directly in error returns while
// maintaining the full OpenAI error structure for marshaling.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}
