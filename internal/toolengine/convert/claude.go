package convert

// ClaudeTool is the Anthropic-side tool representation. Structurally
// analogous to the OpenAI definition but with input_schema instead of
// parameters.
type ClaudeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Claude tool choice modes.
const (
	ClaudeChoiceAllowed  = "allowed"
	ClaudeChoiceDisabled = "disabled"
	ClaudeChoiceRequired = "required"
	ClaudeChoiceTool     = "tool"
)

// ClaudeToolChoice is the Anthropic-side choice representation: one of the
// enumerated modes, or the tool mode with a specific tool name.
type ClaudeToolChoice struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}
