package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/format"
)

// defaultMaxTokens applies when the client omits max_tokens; Anthropic
// requires the field.
const defaultMaxTokens = 4096

// AnthropicProvider implements CompletionProvider against the Anthropic
// Messages API. Stateless apart from the underlying client.
type AnthropicProvider struct {
	client *anthropic.Client
}

// NewAnthropicProvider creates a provider over the given transport.
// The transport chain handles authentication.
func NewAnthropicProvider(transport http.RoundTripper) (*AnthropicProvider, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	httpClient := &http.Client{
		Transport: transport,
		// Client.Timeout = 0 allows long-running SSE streams (bounded by server WriteTimeout)
	}

	client := anthropic.NewClient(
		option.WithHTTPClient(httpClient),
		// Generous RequestTimeout bypasses SDK maxTokens checks - actual limit enforced by server WriteTimeout
		option.WithRequestTimeout(1*time.Hour),
	)

	return &AnthropicProvider{client: &client}, nil
}

// Stream issues the request and adapts the SDK's SSE stream into the
// provider event sequence: init, assistant deltas, tool invocations, result.
// Tool invocations are emitted once their input JSON is fully accumulated.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (iter.Seq2[Event, error], error) {
	params, err := buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	return func(yield func(Event, error) bool) {
		defer func() { _ = stream.Close() }()

		message := anthropic.Message{}
		started := false

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				yield(Event{}, fmt.Errorf("accumulate stream event: %w", err))
				return
			}

			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				started = true
				if !yield(Event{
					Type:       EventInit,
					ResponseID: variant.Message.ID,
					Model:      string(variant.Message.Model),
				}, nil) {
					return
				}

			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !yield(Event{Type: EventAssistant, Text: delta.Text}, nil) {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(Event{}, err)
			return
		}
		if !started {
			yield(Event{}, fmt.Errorf("stream ended before message start"))
			return
		}

		// Tool inputs arrive as partial JSON deltas; the accumulated message
		// is the first point where they are complete and parseable.
		for _, block := range message.Content {
			if toolUse, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
				call := format.ClaudeToolCall{
					ID:    toolUse.ID,
					Name:  toolUse.Name,
					Input: json.RawMessage(toolUse.Input),
				}
				if !yield(Event{Type: EventAssistant, ToolCall: &call}, nil) {
					return
				}
			}
		}

		yield(Event{
			Type:       EventResult,
			StopReason: string(message.StopReason),
			Usage:      usageFromMessage(message),
		}, nil)
	}, nil
}

// usageFromMessage converts Anthropic usage metadata to OpenAI token accounting.
func usageFromMessage(message anthropic.Message) *openaiadapter.Usage {
	return &openaiadapter.Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
}
