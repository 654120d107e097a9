package format

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/callid"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

func TestFormatToolCall(t *testing.T) {
	f := NewFormatter()

	call := ClaudeToolCall{
		Name:  "database_lookup",
		Input: json.RawMessage(`{"table":"users","id":42}`),
	}

	formatted, err := f.FormatToolCall(call)

	require.NoError(t, err)
	assert.True(t, callid.IsValidID(formatted.ID), "missing id must be assigned")
	assert.Equal(t, "function", formatted.Type)
	assert.Equal(t, "database_lookup", formatted.Function.Name)
	assert.JSONEq(t, `{"table":"users","id":42}`, formatted.Function.Arguments)
}

func TestFormatToolCall_KeepsProvidedID(t *testing.T) {
	f := NewFormatter()
	id := callid.NewID()

	formatted, err := f.FormatToolCall(ClaudeToolCall{ID: id, Name: "noop"})

	require.NoError(t, err)
	assert.Equal(t, id, formatted.ID)
}

func TestFormatToolCall_EmptyInputBecomesEmptyObject(t *testing.T) {
	f := NewFormatter()

	formatted, err := f.FormatToolCall(ClaudeToolCall{Name: "noop"})

	require.NoError(t, err)
	assert.Equal(t, "{}", formatted.Function.Arguments)
}

func TestFormatToolCall_Failures(t *testing.T) {
	f := NewFormatter()

	tests := []struct {
		name     string
		call     ClaudeToolCall
		wantCode string
	}{
		{
			name:     "missing name",
			call:     ClaudeToolCall{Input: json.RawMessage(`{}`)},
			wantCode: "TOOL_NAME_MISSING",
		},
		{
			name:     "arguments not json",
			call:     ClaudeToolCall{Name: "noop", Input: json.RawMessage(`{"broken`)},
			wantCode: "ARGUMENTS_NOT_JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.FormatToolCall(tt.call)

			require.Error(t, err)
			var coded *faults.CodedError
			require.True(t, faults.AsCoded(err, &coded))
			assert.Equal(t, tt.wantCode, coded.Code)
		})
	}
}

func TestFormatToolCalls_PartialFailure(t *testing.T) {
	f := NewFormatter()

	calls := []ClaudeToolCall{
		{Name: "first", Input: json.RawMessage(`{}`)},
		{Input: json.RawMessage(`{}`)}, // no name
		{Name: "third", Input: json.RawMessage(`{}`)},
	}

	result := f.FormatToolCalls(calls, false)

	assert.False(t, result.Success)
	assert.Len(t, result.ToolCalls, 2)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)
}

func TestFormatToolCalls_StrictVoidsBatch(t *testing.T) {
	f := NewFormatter()

	calls := []ClaudeToolCall{
		{Name: "first", Input: json.RawMessage(`{}`)},
		{Input: json.RawMessage(`{}`)},
	}

	result := f.FormatToolCalls(calls, true)

	assert.False(t, result.Success)
	assert.Empty(t, result.ToolCalls, "strict mode is all-or-nothing")
	assert.Len(t, result.Errors, 1)
}

func TestBuildResponse_FinishReason(t *testing.T) {
	f := NewFormatter()
	content := "hello"

	t.Run("with tool calls", func(t *testing.T) {
		response := f.BuildResponse("claude-sonnet-4-0", nil, []openaiadapter.ToolCall{
			{ID: callid.NewID(), Type: "function", Function: openaiadapter.FunctionCall{Name: "noop", Arguments: "{}"}},
		}, nil)

		require.Len(t, response.Choices, 1)
		assert.Equal(t, openaiadapter.FinishReasonToolCalls, response.Choices[0].FinishReason)
		assert.Equal(t, "chat.completion", response.Object)
		assert.True(t, strings.HasPrefix(response.ID, "chatcmpl-"))
	})

	t.Run("without tool calls", func(t *testing.T) {
		response := f.BuildResponse("claude-sonnet-4-0", &content, nil, &openaiadapter.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8})

		require.Len(t, response.Choices, 1)
		assert.Equal(t, openaiadapter.FinishReasonStop, response.Choices[0].FinishReason)
		assert.Equal(t, &content, response.Choices[0].Message.Content)
		assert.Equal(t, 8, response.Usage.TotalTokens)
	})
}

func TestNewResponseID_Unique(t *testing.T) {
	a, b := NewResponseID(), NewResponseID()

	assert.True(t, strings.HasPrefix(a, "chatcmpl-"))
	assert.NotEqual(t, a, b)
}
