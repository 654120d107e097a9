package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/provider"
	"github.com/toolgate/toolgate/internal/toolengine"
	"github.com/toolgate/toolgate/internal/toolengine/format"
)

// stubProvider replays a fixed event sequence, or fails.
type stubProvider struct {
	events []provider.Event
	err    error
}

func (s *stubProvider) Stream(_ context.Context, _ provider.Request) (iter.Seq2[provider.Event, error], error) {
	if s.err != nil {
		return nil, s.err
	}
	return func(yield func(provider.Event, error) bool) {
		for _, event := range s.events {
			if !yield(event, nil) {
				return
			}
		}
	}, nil
}

func newTestHandler(p provider.CompletionProvider) *ChatCompletionsHandler {
	return &ChatCompletionsHandler{
		Validator:   openaiadapter.NewRequestValidator(),
		Engine:      toolengine.New(toolengine.Config{}),
		Completions: p,
	}
}

func textEvents(text string) []provider.Event {
	return []provider.Event{
		{Type: provider.EventInit, ResponseID: "chatcmpl-test", Model: "claude-sonnet-4-0"},
		{Type: provider.EventAssistant, Text: text},
		{Type: provider.EventResult, StopReason: "end_turn", Usage: &openaiadapter.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}},
	}
}

func postChat(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const plainBody = `{"model":"claude-sonnet-4-0","messages":[{"role":"user","content":"hi"}]}`

const toolBody = `{
	"model":"claude-sonnet-4-0",
	"messages":[{"role":"user","content":"weather in Berlin?"}],
	"tools":[{"type":"function","function":{
		"name":"get_weather",
		"parameters":{"type":"object","properties":{"location":{"type":"string"}}}
	}}]
}`

func TestChatCompletions_PlainText(t *testing.T) {
	handler := newTestHandler(&stubProvider{events: textEvents("Hello there")})

	rec := postChat(t, handler, plainBody, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp openaiadapter.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chatcmpl-test", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "Hello there", *resp.Choices[0].Message.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestChatCompletions_ToolCall(t *testing.T) {
	events := []provider.Event{
		{Type: provider.EventInit, ResponseID: "chatcmpl-test", Model: "claude-sonnet-4-0"},
		{Type: provider.EventAssistant, ToolCall: &format.ClaudeToolCall{
			Name:  "get_weather",
			Input: json.RawMessage(`{"location":"Berlin"}`),
		}},
		{Type: provider.EventResult, StopReason: "tool_use"},
	}
	handler := newTestHandler(&stubProvider{events: events})

	rec := postChat(t, handler, toolBody, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp openaiadapter.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)

	call := resp.Choices[0].Message.ToolCalls[0]
	assert.True(t, strings.HasPrefix(call.ID, "call_"))
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.JSONEq(t, `{"location":"Berlin"}`, call.Function.Arguments)
}

func TestChatCompletions_InvalidJSON(t *testing.T) {
	handler := newTestHandler(&stubProvider{})

	rec := postChat(t, handler, `{"model":`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp openaiadapter.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Err.Type)
}

func TestChatCompletions_ValidationFailure(t *testing.T) {
	handler := newTestHandler(&stubProvider{})

	rec := postChat(t, handler, `{"model":"","messages":[]}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletions_EngineRejection(t *testing.T) {
	handler := newTestHandler(&stubProvider{events: textEvents("x")})

	// tool_choice names a function that is not among the tools.
	body := `{
		"model":"claude-sonnet-4-0",
		"messages":[{"role":"user","content":"hi"}],
		"tools":[{"type":"function","function":{"name":"get_weather"}}],
		"tool_choice":{"type":"function","function":{"name":"missing"}}
	}`

	rec := postChat(t, handler, body, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp openaiadapter.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CHOICE_FUNCTION_NOT_FOUND", resp.Err.Code)
	assert.Equal(t, "invalid_request_error", resp.Err.Type)
}

func TestChatCompletions_UnknownToolResult(t *testing.T) {
	handler := newTestHandler(&stubProvider{events: textEvents("x")})

	body := `{
		"model":"claude-sonnet-4-0",
		"messages":[
			{"role":"user","content":"hi"},
			{"role":"tool","tool_call_id":"call_00000000000000000000000000000000","content":"result"}
		]
	}`

	rec := postChat(t, handler, body, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp openaiadapter.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "TOOL_CALL_NOT_FOUND", resp.Err.Code)
}

func TestChatCompletions_ResentHistoryCorrelates(t *testing.T) {
	handler := newTestHandler(&stubProvider{events: textEvents("done")})

	// The assistant announced the call in a prior turn; the client resends
	// the full history with the matching tool result.
	body := `{
		"model":"claude-sonnet-4-0",
		"messages":[
			{"role":"user","content":"weather?"},
			{"role":"assistant","content":null,"tool_calls":[
				{"id":"call_0123456789abcdef0123456789abcdef","type":"function",
				 "function":{"name":"get_weather","arguments":"{\"location\":\"Berlin\"}"}}
			]},
			{"role":"tool","tool_call_id":"call_0123456789abcdef0123456789abcdef","content":"{\"temp\":21}"}
		]
	}`

	rec := postChat(t, handler, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	// Resending the same history must not trip duplicate-id tracking.
	rec = postChat(t, handler, body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatCompletions_ProviderFailure(t *testing.T) {
	handler := newTestHandler(&stubProvider{err: errors.New("connection refused")})

	rec := postChat(t, handler, plainBody, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp openaiadapter.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "server_error", resp.Err.Type)
}

func TestChatCompletions_DisallowedToolHeader(t *testing.T) {
	handler := newTestHandler(&stubProvider{events: textEvents("x")})

	// Forcing a call to a tool the header disables must fail resolution.
	body := `{
		"model":"claude-sonnet-4-0",
		"messages":[{"role":"user","content":"hi"}],
		"tools":[{"type":"function","function":{"name":"get_weather"}}],
		"tool_choice":{"type":"function","function":{"name":"get_weather"}}
	}`

	rec := postChat(t, handler, body, map[string]string{
		"X-Toolgate-Disallowed-Tools": "get_weather",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp openaiadapter.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CHOICE_FUNCTION_NOT_FOUND", resp.Err.Code)
}

func TestChatCompletions_Streaming(t *testing.T) {
	handler := newTestHandler(&stubProvider{events: textEvents("Hello")})

	body := `{"model":"claude-sonnet-4-0","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := postChat(t, handler, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	payload := rec.Body.String()
	assert.Contains(t, payload, `"object":"chat.completion.chunk"`)
	assert.Contains(t, payload, `"content":"Hello"`)
	assert.Contains(t, payload, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(payload), "data: [DONE]"))
}

func TestChatCompletions_StreamingToolCalls(t *testing.T) {
	events := []provider.Event{
		{Type: provider.EventInit, ResponseID: "chatcmpl-test", Model: "claude-sonnet-4-0"},
		{Type: provider.EventAssistant, ToolCall: &format.ClaudeToolCall{
			Name:  "get_weather",
			Input: json.RawMessage(`{"location":"Berlin"}`),
		}},
		{Type: provider.EventResult, StopReason: "tool_use"},
	}
	handler := newTestHandler(&stubProvider{events: events})

	body := `{
		"model":"claude-sonnet-4-0","stream":true,
		"messages":[{"role":"user","content":"weather?"}],
		"tools":[{"type":"function","function":{"name":"get_weather"}}]
	}`
	rec := postChat(t, handler, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := rec.Body.String()
	assert.Contains(t, payload, `"name":"get_weather"`)
	assert.Contains(t, payload, `"finish_reason":"tool_calls"`)
	assert.Contains(t, payload, "data: [DONE]")
}

func TestChatCompletions_SessionHeaderScopesTracking(t *testing.T) {
	handler := newTestHandler(&stubProvider{events: textEvents("x")})

	body := `{
		"model":"claude-sonnet-4-0",
		"messages":[
			{"role":"assistant","content":null,"tool_calls":[
				{"id":"call_0123456789abcdef0123456789abcdef","type":"function",
				 "function":{"name":"get_weather","arguments":"{}"}}
			]},
			{"role":"tool","tool_call_id":"call_0123456789abcdef0123456789abcdef","content":"ok"}
		]
	}`

	rec := postChat(t, handler, body, map[string]string{"X-Session-Id": "alpha"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, handler.Engine.IDs.Has("alpha", "call_0123456789abcdef0123456789abcdef"))
	assert.False(t, handler.Engine.IDs.Has("default", "call_0123456789abcdef0123456789abcdef"))
}
