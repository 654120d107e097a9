package openaiadapter

import (
	"encoding/json"
	"fmt"
)

// ToolType is the only tool type OpenAI currently defines for chat completions.
const ToolTypeFunction = "function"

// Tool is a function tool definition as sent by OpenAI clients.
// Treated as a value object: validated once on entry, never mutated.
type Tool struct {
	Type     string             `json:"type" validate:"required,eq=function"`
	Function FunctionDefinition `json:"function" validate:"required"`
}

// FunctionDefinition describes a callable function and its JSON Schema parameters.
type FunctionDefinition struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool choice string variants.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ToolChoice is the tagged union for the tool_choice request field:
// either one of the enumerated strings or a named function selector.
// Exactly one of Value and Function is set after a successful unmarshal.
type ToolChoice struct {
	Value    string
	Function *FunctionChoice
}

// FunctionChoice names the single function the model is forced to call.
type FunctionChoice struct {
	Name string `json:"name"`
}

// IsNamed reports whether the choice is the named-function variant.
func (c *ToolChoice) IsNamed() bool {
	return c != nil && c.Function != nil
}

// UnmarshalJSON accepts both the string form ("auto"/"none"/"required") and
// the object form ({"type":"function","function":{"name":...}}).
// Unknown variants are rejected here rather than guessed at downstream.
func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
			c.Value = s
			c.Function = nil
			return nil
		default:
			return fmt.Errorf("unsupported tool_choice value %q", s)
		}
	}

	var named struct {
		Type     string         `json:"type"`
		Function FunctionChoice `json:"function"`
	}
	if err := json.Unmarshal(data, &named); err != nil {
		return fmt.Errorf("tool_choice is neither a string nor an object: %w", err)
	}
	if named.Type != ToolTypeFunction {
		return fmt.Errorf("unsupported tool_choice type %q", named.Type)
	}
	if named.Function.Name == "" {
		return fmt.Errorf("tool_choice function name cannot be empty")
	}

	c.Value = ""
	c.Function = &named.Function
	return nil
}

// MarshalJSON emits the wire form matching the variant held.
func (c ToolChoice) MarshalJSON() ([]byte, error) {
	if c.Function != nil {
		return json.Marshal(struct {
			Type     string         `json:"type"`
			Function FunctionChoice `json:"function"`
		}{Type: ToolTypeFunction, Function: *c.Function})
	}
	if c.Value == "" {
		return nil, fmt.Errorf("tool_choice has no variant set")
	}
	return json.Marshal(c.Value)
}

// ToolCall is a concrete, identified tool invocation emitted toward the client.
// Arguments is the JSON-encoded argument object as a string, per OpenAI wire format.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is the function name and serialized arguments of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
