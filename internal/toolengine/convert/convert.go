// Package convert maps tool definitions and tool-choice directives between
// the OpenAI and Anthropic Claude representations, with an explicit
// round-trip fidelity check.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

// ConversionError is a per-tool conversion failure.
type ConversionError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToClaudeResult is the outcome of an OpenAI→Claude tool conversion.
// On failure Converted is empty: malformed input is rejected before any
// mapping is attempted, there is no partial conversion.
type ToClaudeResult struct {
	Success   bool
	Converted []ClaudeTool
	Errors    []ConversionError
	Warnings  []string
}

// ToOpenAIResult is the outcome of a Claude→OpenAI tool conversion.
type ToOpenAIResult struct {
	Success   bool
	Converted []openaiadapter.Tool
	Errors    []ConversionError
	Warnings  []string
}

// Fixed lookup tables for the enumerated choice values. Unknown values are
// conversion errors, never best-effort guesses.
var (
	openAIToClaudeChoice = map[string]string{
		openaiadapter.ToolChoiceAuto:     ClaudeChoiceAllowed,
		openaiadapter.ToolChoiceNone:     ClaudeChoiceDisabled,
		openaiadapter.ToolChoiceRequired: ClaudeChoiceRequired,
	}
	claudeToOpenAIChoice = map[string]string{
		ClaudeChoiceAllowed:  openaiadapter.ToolChoiceAuto,
		ClaudeChoiceDisabled: openaiadapter.ToolChoiceNone,
		ClaudeChoiceRequired: openaiadapter.ToolChoiceRequired,
	}
)

// Converter performs bidirectional tool and tool-choice conversion.
// Stateless and safe for concurrent use; constructed explicitly so callers
// thread it through rather than relying on a package-level instance.
type Converter struct{}

// NewConverter creates a Converter.
func NewConverter() *Converter {
	return &Converter{}
}

// ToClaude transforms an OpenAI tools array to Claude format:
// function.name → name, function.description → description,
// function.parameters → input_schema (pass-through, both sides speak JSON Schema).
func (c *Converter) ToClaude(tools []openaiadapter.Tool) ToClaudeResult {
	var result ToClaudeResult

	// Validation precedes conversion.
	for i, tool := range tools {
		result.Errors = append(result.Errors, structuralErrors(i, tool)...)
	}
	if len(result.Errors) > 0 {
		return result
	}

	result.Converted = make([]ClaudeTool, 0, len(tools))
	for _, tool := range tools {
		converted := ClaudeTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
		}
		if tool.Function.Parameters != nil {
			schema, err := deepCopySchema(tool.Function.Parameters)
			if err != nil {
				result.Errors = append(result.Errors, ConversionError{
					Field: "function.parameters", Code: "SCHEMA_COPY_FAILED", Message: err.Error(),
				})
				result.Converted = nil
				return result
			}
			converted.InputSchema = schema
		}
		result.Converted = append(result.Converted, converted)
	}

	result.Success = true
	return result
}

// FromClaude transforms Claude tools back to OpenAI format, defaulting
// type:"object" on schemas that declare properties without a type.
func (c *Converter) FromClaude(tools []ClaudeTool) ToOpenAIResult {
	var result ToOpenAIResult

	for i, tool := range tools {
		if tool.Name == "" {
			result.Errors = append(result.Errors, ConversionError{
				Index: i, Field: "name", Code: "NAME_MISSING", Message: "claude tool has no name",
			})
		}
	}
	if len(result.Errors) > 0 {
		return result
	}

	result.Converted = make([]openaiadapter.Tool, 0, len(tools))
	for i, tool := range tools {
		converted := openaiadapter.Tool{
			Type: openaiadapter.ToolTypeFunction,
			Function: openaiadapter.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
			},
		}
		if tool.InputSchema != nil {
			schema, err := deepCopySchema(tool.InputSchema)
			if err != nil {
				result.Errors = append(result.Errors, ConversionError{
					Index: i, Field: "input_schema", Code: "SCHEMA_COPY_FAILED", Message: err.Error(),
				})
				result.Converted = nil
				return result
			}
			if _, hasType := schema["type"]; !hasType {
				if _, hasProps := schema["properties"]; hasProps {
					schema["type"] = "object"
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("tool %q: defaulted missing schema type to \"object\"", tool.Name))
				}
			}
			converted.Function.Parameters = schema
		}
		result.Converted = append(result.Converted, converted)
	}

	result.Success = true
	return result
}

// OpenAIChoiceToClaude maps a tool_choice directive to the Claude
// representation. A nil choice defaults to allowed, matching OpenAI's
// implicit auto when tools are present.
func (c *Converter) OpenAIChoiceToClaude(choice *openaiadapter.ToolChoice) (ClaudeToolChoice, error) {
	if choice == nil {
		return ClaudeToolChoice{Mode: ClaudeChoiceAllowed}, nil
	}
	if choice.IsNamed() {
		return ClaudeToolChoice{Mode: ClaudeChoiceTool, Name: choice.Function.Name}, nil
	}
	mode, ok := openAIToClaudeChoice[choice.Value]
	if !ok {
		return ClaudeToolChoice{}, faults.New(faults.TypeFormat, "CHOICE_UNKNOWN_VALUE",
			"unknown tool_choice value %q", choice.Value)
	}
	return ClaudeToolChoice{Mode: mode}, nil
}

// ClaudeChoiceToOpenAI is the inverse choice mapping.
func (c *Converter) ClaudeChoiceToOpenAI(choice ClaudeToolChoice) (*openaiadapter.ToolChoice, error) {
	if choice.Mode == ClaudeChoiceTool {
		if choice.Name == "" {
			return nil, faults.New(faults.TypeFormat, "CHOICE_NAME_MISSING",
				"claude tool choice in tool mode has no name")
		}
		return &openaiadapter.ToolChoice{Function: &openaiadapter.FunctionChoice{Name: choice.Name}}, nil
	}
	value, ok := claudeToOpenAIChoice[choice.Mode]
	if !ok {
		return nil, faults.New(faults.TypeFormat, "CHOICE_UNKNOWN_VALUE",
			"unknown claude tool choice mode %q", choice.Mode)
	}
	return &openaiadapter.ToolChoice{Value: value}, nil
}

func structuralErrors(index int, tool openaiadapter.Tool) []ConversionError {
	var errs []ConversionError
	if tool.Type != openaiadapter.ToolTypeFunction {
		errs = append(errs, ConversionError{
			Index: index, Field: "type", Code: "UNSUPPORTED_TOOL_TYPE",
			Message: fmt.Sprintf("tool type %q is not supported", tool.Type),
		})
	}
	if tool.Function.Name == "" {
		errs = append(errs, ConversionError{
			Index: index, Field: "function.name", Code: "NAME_MISSING",
			Message: "tool function has no name",
		})
	}
	return errs
}

// deepCopySchema copies a schema through JSON so converted tools never alias
// the caller's maps. Both representations carry map[string]any, so the copy
// is value-identical.
func deepCopySchema(schema map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var copied map[string]any
	if err := json.Unmarshal(encoded, &copied); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return copied, nil
}
