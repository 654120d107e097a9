// Package provider defines the asynchronous Completion Provider boundary the
// tool engine calls into, and its Anthropic Claude implementation. The
// engine treats the provider as an opaque collaborator: authentication and
// transport concerns stay on this side of the interface.
package provider

import (
	"context"
	"iter"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/convert"
	"github.com/toolgate/toolgate/internal/toolengine/format"
)

// Request is the options bag handed to the provider: model id, conversation,
// tool surface and tool-choice directive.
type Request struct {
	Model         string
	Messages      []openaiadapter.Message
	Tools         []convert.ClaudeTool
	Choice        convert.ClaudeToolChoice
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
}

// EventType discriminates stream events.
type EventType string

const (
	// EventInit opens a stream with provider/session metadata.
	EventInit EventType = "init"
	// EventAssistant carries an assistant content delta or tool invocation.
	EventAssistant EventType = "assistant"
	// EventResult closes a stream with usage and stop reason.
	EventResult EventType = "result"
)

// Event is one element of the ordered event sequence a completion produces.
type Event struct {
	Type EventType

	// init
	ResponseID string
	Model      string

	// assistant: exactly one of Text / ToolCall is set
	Text     string
	ToolCall *format.ClaudeToolCall

	// result
	StopReason string
	Usage      *openaiadapter.Usage
}

// CompletionProvider produces an ordered asynchronous event sequence for a
// completion request. The sequence ends after the result event or on error.
type CompletionProvider interface {
	Stream(ctx context.Context, req Request) (iter.Seq2[Event, error], error)
}

// Completion is the buffered form of a full event sequence.
type Completion struct {
	ResponseID string
	Model      string
	Text       string
	ToolCalls  []format.ClaudeToolCall
	StopReason string
	Usage      *openaiadapter.Usage
}

// Collect drains an event sequence into a buffered Completion. Used by the
// non-streaming response path.
func Collect(events iter.Seq2[Event, error]) (*Completion, error) {
	completion := &Completion{}
	for event, err := range events {
		if err != nil {
			return nil, err
		}
		switch event.Type {
		case EventInit:
			completion.ResponseID = event.ResponseID
			completion.Model = event.Model
		case EventAssistant:
			if event.ToolCall != nil {
				completion.ToolCalls = append(completion.ToolCalls, *event.ToolCall)
			} else {
				completion.Text += event.Text
			}
		case EventResult:
			completion.StopReason = event.StopReason
			completion.Usage = event.Usage
		}
	}
	return completion, nil
}
