// Package format converts Claude-native tool invocations into the OpenAI
// tool-call wire shape and assembles the chat-completion envelope.
package format

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/callid"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

// ClaudeToolCall is a tool invocation as emitted by the completion provider:
// the name of the invoked tool and its raw JSON input.
type ClaudeToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// IndexedError ties a formatting failure to its position in the input batch.
type IndexedError struct {
	Index int
	Err   *faults.CodedError
}

// BatchResult reports a batch formatting run. Partial success is explicit:
// successfully formatted calls are returned alongside per-index errors,
// unless strict mode turned the batch all-or-nothing.
type BatchResult struct {
	Success   bool
	ToolCalls []openaiadapter.ToolCall
	Errors    []IndexedError
}

// Formatter renders provider tool invocations as OpenAI tool calls.
type Formatter struct {
	newID func() string
	now   func() time.Time
}

// NewFormatter creates a Formatter that delegates id generation to callid.
func NewFormatter() *Formatter {
	return &Formatter{newID: callid.NewID, now: time.Now}
}

// FormatToolCall converts one Claude invocation to OpenAI wire shape.
// A missing function name is a structural error, not a silent drop; an id is
// assigned when the source lacks one; the serialized arguments string is
// verified by immediately re-parsing it.
func (f *Formatter) FormatToolCall(call ClaudeToolCall) (openaiadapter.ToolCall, error) {
	if call.Name == "" {
		return openaiadapter.ToolCall{}, faults.New(faults.TypeFormat, "TOOL_NAME_MISSING",
			"claude tool call has no function name").WithCall(call.ID, "")
	}

	arguments := "{}"
	if len(call.Input) > 0 {
		arguments = string(call.Input)
	}

	// A write that cannot round-trip is itself an error.
	var reparsed any
	if err := json.Unmarshal([]byte(arguments), &reparsed); err != nil {
		return openaiadapter.ToolCall{}, faults.New(faults.TypeFormat, "ARGUMENTS_NOT_JSON",
			"tool call arguments for %q do not parse as JSON: %v", call.Name, err).WithCall(call.ID, call.Name)
	}

	id := call.ID
	if id == "" {
		id = f.newID()
	}

	return openaiadapter.ToolCall{
		ID:   id,
		Type: openaiadapter.ToolTypeFunction,
		Function: openaiadapter.FunctionCall{
			Name:      call.Name,
			Arguments: arguments,
		},
	}, nil
}

// FormatToolCalls formats a batch. Malformed calls are reported individually;
// in strict mode any failure voids the whole batch.
func (f *Formatter) FormatToolCalls(calls []ClaudeToolCall, strict bool) BatchResult {
	result := BatchResult{ToolCalls: make([]openaiadapter.ToolCall, 0, len(calls))}

	for i, call := range calls {
		formatted, err := f.FormatToolCall(call)
		if err != nil {
			var coded *faults.CodedError
			if !faults.AsCoded(err, &coded) {
				coded = faults.New(faults.TypeFormat, "FORMATTING_FAILED", "%v", err)
			}
			result.Errors = append(result.Errors, IndexedError{Index: i, Err: coded})
			continue
		}
		result.ToolCalls = append(result.ToolCalls, formatted)
	}

	result.Success = len(result.Errors) == 0
	if strict && !result.Success {
		result.ToolCalls = nil
	}
	return result
}

// BuildResponse assembles the full chat-completion envelope. The finish
// reason is a total function of whether tool calls are present.
func (f *Formatter) BuildResponse(model string, content *string, toolCalls []openaiadapter.ToolCall, usage *openaiadapter.Usage) openaiadapter.ChatCompletionResponse {
	finishReason := openaiadapter.FinishReasonStop
	if len(toolCalls) > 0 {
		finishReason = openaiadapter.FinishReasonToolCalls
	}

	return openaiadapter.ChatCompletionResponse{
		ID:      NewResponseID(),
		Object:  "chat.completion",
		Created: f.now().Unix(),
		Model:   model,
		Choices: []openaiadapter.Choice{{
			Index: 0,
			Message: openaiadapter.AssistantMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
}

// NewResponseID generates an OpenAI-compatible response ID (chatcmpl-<token>).
func NewResponseID() string {
	b := make([]byte, 24) // 24 bytes yields 32 URL-safe base64 characters
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	// RawURLEncoding avoids '+', '/' and trailing '='
	return "chatcmpl-" + base64.RawURLEncoding.EncodeToString(b)
}
