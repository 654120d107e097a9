package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/provider"
	"github.com/toolgate/toolgate/internal/toolengine"
	"github.com/toolgate/toolgate/internal/toolengine/callid"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
	"github.com/toolgate/toolgate/internal/toolengine/format"
)

// Request headers narrowing the tool policy and scoping call-id tracking.
const (
	headerSessionID        = "X-Session-Id"
	headerEnabledTools     = "X-Toolgate-Enabled-Tools"
	headerDisallowedTools  = "X-Toolgate-Disallowed-Tools"
	headerPermissionMode   = "X-Toolgate-Permission-Mode"
	headerMaxTurns         = "X-Toolgate-Max-Turns"
	headerMaxParallelCalls = "X-Toolgate-Max-Parallel-Calls"
)

// ChatCompletionsHandler handles OpenAI-compatible chat completion requests,
// running the tool-call lifecycle around the completion provider.
type ChatCompletionsHandler struct {
	Validator    *openaiadapter.RequestValidator
	Engine       *toolengine.Engine
	Completions  provider.CompletionProvider
	ToolDefaults toolengine.ToolConfiguration
	Strict       bool
}

// Compile-time check to ensure ChatCompletionsHandler implements http.Handler
var _ http.Handler = (*ChatCompletionsHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *ChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req openaiadapter.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeJSON(ctx, w, &openaiadapter.ErrorResponse{
				Err: openaiadapter.Error{
					Message: http.StatusText(http.StatusRequestEntityTooLarge),
					Type:    "invalid_request_error",
				},
			}, http.StatusRequestEntityTooLarge)
			return
		}
		slog.ErrorContext(ctx, "failed to decode request", "error", err)
		writeJSONOpenAIError(ctx, w, &openaiadapter.ErrorResponse{
			Err: openaiadapter.Error{
				Message: "request body is not valid JSON: " + err.Error(),
				Type:    "invalid_request_error",
			},
		})
		return
	}

	if err := h.Validator.ValidateRequest(&req); err != nil {
		writeJSONOpenAIError(ctx, w, &openaiadapter.ErrorResponse{
			Err: openaiadapter.Error{
				Message: err.Error(),
				Type:    "invalid_request_error",
			},
		})
		return
	}

	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		sessionID = callid.DefaultSession
	}
	toolCfg := h.toolConfiguration(r)

	prepared, err := h.Engine.PrepareRequest(req.Tools, req.ToolChoice, toolCfg)
	if err != nil {
		writeJSONEngineError(ctx, w, err, map[string]any{"session_id": sessionID})
		return
	}

	if err := h.correlateHistory(sessionID, req.Messages); err != nil {
		writeJSONEngineError(ctx, w, err, map[string]any{"session_id": sessionID})
		return
	}

	preq := provider.Request{
		Model:         req.Model,
		Messages:      req.Messages,
		Tools:         prepared.Tools,
		Choice:        prepared.Choice,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil {
		preq.MaxTokens = *req.MaxTokens
	}

	if req.IsStreaming() {
		h.streamResponse(ctx, w, preq, sessionID)
	} else {
		h.writeResponse(ctx, w, preq, sessionID)
	}
}

// toolConfiguration merges per-request headers over the configured defaults.
func (h *ChatCompletionsHandler) toolConfiguration(r *http.Request) toolengine.ToolConfiguration {
	cfg := h.ToolDefaults

	if v := r.Header.Get(headerEnabledTools); v != "" {
		cfg.EnabledTools = splitHeaderList(v)
	}
	if v := r.Header.Get(headerDisallowedTools); v != "" {
		cfg.DisallowedTools = append(cfg.DisallowedTools, splitHeaderList(v)...)
	}
	if v := r.Header.Get(headerPermissionMode); v != "" {
		cfg.PermissionMode = v
	}
	if v := r.Header.Get(headerMaxTurns); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTurns = n
		}
	}
	if v := r.Header.Get(headerMaxParallelCalls); v != "" {
		// Headers can only narrow the configured limit, never raise it.
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < cfg.MaxParallelCalls {
			cfg.MaxParallelCalls = n
		}
	}

	return cfg
}

func splitHeaderList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// correlateHistory adopts tool-call ids announced by assistant turns in the
// resent conversation and verifies that every tool-result message refers to
// a known id. Clients resend full history each turn, so ids seen before are
// skipped rather than double-tracked.
func (h *ChatCompletionsHandler) correlateHistory(sessionID string, messages []openaiadapter.Message) error {
	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		for _, call := range msg.ToolCalls {
			if h.Engine.IDs.Has(sessionID, call.ID) {
				continue
			}
			if err := h.Engine.IDs.Track(sessionID, call.ID); err != nil {
				return err
			}
		}
	}

	for _, msg := range messages {
		if msg.Role != "tool" {
			continue
		}
		if err := h.Engine.CorrelateResult(sessionID, msg.ToolCallID); err != nil {
			return err
		}
	}

	return nil
}

// writeResponse handles non-streaming chat completion requests.
func (h *ChatCompletionsHandler) writeResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req provider.Request,
	sessionID string,
) {
	if ctx.Err() != nil {
		return
	}

	events, err := h.Completions.Stream(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeJSONOpenAIError(ctx, w, provider.ToOpenAIError(err))
		return
	}

	completion, err := provider.Collect(events)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeJSONOpenAIError(ctx, w, provider.ToOpenAIError(err))
		return
	}

	toolCalls, err := h.recordAndDispatch(ctx, sessionID, completion.ToolCalls)
	if err != nil {
		writeJSONEngineError(ctx, w, err, map[string]any{"session_id": sessionID})
		return
	}

	var content *string
	if completion.Text != "" || len(toolCalls) == 0 {
		content = &completion.Text
	}

	response := h.Engine.Formatter.BuildResponse(completion.Model, content, toolCalls, completion.Usage)
	if completion.ResponseID != "" {
		response.ID = completion.ResponseID
	}

	writeJSON(ctx, w, response, http.StatusOK)
}

// recordAndDispatch runs provider tool invocations through the lifecycle:
// format, track, create state, then dispatch the batch through the
// coordinator so entries reach a terminal state.
func (h *ChatCompletionsHandler) recordAndDispatch(ctx context.Context, sessionID string, calls []format.ClaudeToolCall) ([]openaiadapter.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	batch, err := h.Engine.RecordInvocations(sessionID, calls, h.Strict)
	if err != nil {
		return nil, err
	}
	for _, indexed := range batch.Errors {
		slog.WarnContext(ctx, "tool call dropped",
			"index", indexed.Index, "code", indexed.Err.Code, "error", indexed.Err)
	}
	if len(batch.ToolCalls) == 0 {
		return nil, nil
	}

	if _, err := h.Engine.ProcessBatch(ctx, sessionID, batch.ToolCalls, h.Strict); err != nil {
		return nil, err
	}

	return batch.ToolCalls, nil
}

// streamResponse streams chat completion chunks using SSE.
func (h *ChatCompletionsHandler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req provider.Request,
	sessionID string,
) {
	if ctx.Err() != nil {
		return
	}

	events, err := h.Completions.Stream(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)
		writeJSONOpenAIError(ctx, w, provider.ToOpenAIError(err))
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeJSONOpenAIError(ctx, w, &openaiadapter.ErrorResponse{
			Err: openaiadapter.Error{
				Message: http.StatusText(http.StatusInternalServerError),
				Type:    "api_error",
			},
		})
		return
	}

	stream := newChunkStream(sse, req.Model)

	var invocations []format.ClaudeToolCall
	for event, err := range events {
		// Check for client disconnect before processing the event
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}

		if err != nil {
			slog.ErrorContext(ctx, "stream error", "error", err)
			writeSSEError(ctx, sse, provider.ToOpenAIError(err))
			return
		}

		switch event.Type {
		case provider.EventInit:
			stream.init(event.ResponseID, event.Model)
		case provider.EventAssistant:
			if event.ToolCall != nil {
				invocations = append(invocations, *event.ToolCall)
				continue
			}
			if writeErr := stream.content(event.Text); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write chunk", "error", writeErr)
				return
			}
		case provider.EventResult:
			toolCalls, engineErr := h.recordAndDispatch(ctx, sessionID, invocations)
			if engineErr != nil {
				slog.ErrorContext(ctx, "tool engine error", "error", engineErr)
				writeSSEError(ctx, sse, faults.Format(engineErr, map[string]any{"session_id": sessionID}))
				return
			}
			if writeErr := stream.finish(toolCalls, event.Usage); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write final chunk", "error", writeErr)
				return
			}
		}
	}

	// OpenAI streaming protocol requires [DONE] marker
	if err := sse.WriteRaw("[DONE]"); err != nil {
		slog.ErrorContext(ctx, "failed to write stream termination marker", "error", err)
	}
}

// writeSSEError emits an error event in the {"error": {...}} envelope.
// OpenAI SDK clients recognize the shape and stop reading immediately.
func writeSSEError(ctx context.Context, sse *SSEWriter, errResp *openaiadapter.ErrorResponse) {
	if err := sse.WriteEvent("error"); err != nil {
		slog.ErrorContext(ctx, "failed to write error event type", "error", err)
		return
	}
	if err := sse.WriteData(errResp); err != nil {
		slog.ErrorContext(ctx, "failed to write error", "error", err)
	}
}

// chunkStream assembles the OpenAI streaming chunk sequence: a role delta
// first, content deltas as they arrive, then tool calls and the finish chunk.
type chunkStream struct {
	sse        *SSEWriter
	id         string
	model      string
	created    int64
	roleWasSet bool
}

func newChunkStream(sse *SSEWriter, model string) *chunkStream {
	return &chunkStream{
		sse:     sse,
		id:      format.NewResponseID(),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (s *chunkStream) init(responseID, model string) {
	if responseID != "" {
		s.id = responseID
	}
	if model != "" {
		s.model = model
	}
}

func (s *chunkStream) chunk(delta openaiadapter.Delta, finishReason *string, usage *openaiadapter.Usage) openaiadapter.ChatCompletionChunk {
	return openaiadapter.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []openaiadapter.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
}

func (s *chunkStream) content(text string) error {
	if !s.roleWasSet {
		s.roleWasSet = true
		if err := s.sse.WriteData(s.chunk(openaiadapter.Delta{Role: "assistant"}, nil, nil)); err != nil {
			return err
		}
	}
	if text == "" {
		return nil
	}
	return s.sse.WriteData(s.chunk(openaiadapter.Delta{Content: text}, nil, nil))
}

func (s *chunkStream) finish(toolCalls []openaiadapter.ToolCall, usage *openaiadapter.Usage) error {
	if err := s.content(""); err != nil { // ensure the role delta went out
		return err
	}

	finishReason := openaiadapter.FinishReasonStop
	if len(toolCalls) > 0 {
		finishReason = openaiadapter.FinishReasonToolCalls

		deltas := make([]openaiadapter.ToolCallDelta, len(toolCalls))
		for i, call := range toolCalls {
			deltas[i] = openaiadapter.ToolCallDelta{
				Index:    i,
				ID:       call.ID,
				Type:     call.Type,
				Function: call.Function,
			}
		}
		if err := s.sse.WriteData(s.chunk(openaiadapter.Delta{ToolCalls: deltas}, nil, nil)); err != nil {
			return err
		}
	}

	return s.sse.WriteData(s.chunk(openaiadapter.Delta{}, &finishReason, usage))
}
