package openaiadapter

// ChatCompletionRequest is the inbound request body for POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string      `json:"model" validate:"required"`
	Messages    []Message   `json:"messages" validate:"required,min=1,dive"`
	Tools       []Tool      `json:"tools,omitempty" validate:"omitempty,dive"`
	ToolChoice  *ToolChoice `json:"tool_choice,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Temperature *float64    `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64    `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	N           *int        `json:"n,omitempty" validate:"omitempty,eq=1"`
	Stream      *bool       `json:"stream,omitempty"`
	Stop        []string    `json:"stop,omitempty" validate:"omitempty,max=4"`
	User        string      `json:"user,omitempty"`
}

// IsStreaming reports whether the client requested SSE streaming.
func (r *ChatCompletionRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// Message is a single conversation message in OpenAI chat format.
// Content is a pointer because assistant messages carrying only tool calls
// have an explicit null content.
type Message struct {
	Role       string     `json:"role" validate:"required,oneof=system developer user assistant tool"`
	Content    *string    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns the message content, or the empty string for null content.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ChatCompletionResponse is the buffered response envelope for a chat completion.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion alternative. The gateway always produces exactly one.
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// AssistantMessage is the assistant turn inside a response choice.
type AssistantMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Finish reasons produced by the gateway.
const (
	FinishReasonStop          = "stop"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonLength        = "length"
	FinishReasonContentFilter = "content_filter"
)

// ChatCompletionChunk is a single SSE streaming chunk.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is one streaming delta choice.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta carries the incremental payload of a streaming chunk.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a tool call inside a streaming delta. Unlike the buffered
// form it carries the positional index OpenAI streaming clients key on.
type ToolCallDelta struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}
