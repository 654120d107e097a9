package provider

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/convert"
)

// buildMessageParams assembles the Anthropic request from the provider
// request. The tool surface arrives pre-validated and pre-converted by the
// engine; this layer only maps it onto SDK parameter types.
func buildMessageParams(req Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	system, messages, err := fromMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		params.Tools = fromClaudeTools(req.Tools)
		toolChoice, err := fromClaudeChoice(req.Choice)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.ToolChoice = toolChoice
	}

	return params, nil
}

// fromMessages converts the OpenAI conversation into Anthropic turns.
// System and developer messages are hoisted into the system prompt; tool
// result messages become tool_result blocks on a user turn; assistant tool
// calls become tool_use blocks.
func fromMessages(messages []openaiadapter.Message) (string, []anthropic.MessageParam, error) {
	var system string
	var out []anthropic.MessageParam

	for i, msg := range messages {
		switch msg.Role {
		case "system", "developer":
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text()

		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))

		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, call := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
					return "", nil, fmt.Errorf("messages[%d]: tool call %q arguments are not valid JSON: %w", i, call.ID, err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Function.Name))
			}
			if len(blocks) == 0 {
				// Anthropic rejects empty assistant turns.
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case "tool":
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false),
			))

		default:
			return "", nil, fmt.Errorf("messages[%d]: unsupported role %q", i, msg.Role)
		}
	}

	return system, out, nil
}

// fromClaudeTools maps the engine's Claude tool representation onto SDK
// tool params, splitting the flat JSON Schema into the SDK's
// properties/required/extra fields layout.
func fromClaudeTools(tools []convert.ClaudeTool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			InputSchema: anthropic.ToolInputSchemaParam{},
		}
		if tool.Description != "" {
			toolParam.Description = anthropic.String(tool.Description)
		}

		if tool.InputSchema != nil {
			schema := tool.InputSchema

			if props, ok := schema["properties"]; ok {
				toolParam.InputSchema.Properties = props
			}

			if req, ok := schema["required"].([]any); ok {
				var required []string
				for _, r := range req {
					if s, ok := r.(string); ok {
						required = append(required, s)
					}
				}
				toolParam.InputSchema.Required = required
			}

			// Preserve schema fields without dedicated SDK struct fields (e.g., additionalProperties).
			var extraFields map[string]any
			for key, value := range schema {
				if key != "type" && key != "properties" && key != "required" {
					if extraFields == nil {
						extraFields = make(map[string]any)
					}
					extraFields[key] = value
				}
			}
			toolParam.InputSchema.ExtraFields = extraFields
		}

		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

// fromClaudeChoice maps the engine's choice representation onto the SDK's
// tool choice union.
func fromClaudeChoice(choice convert.ClaudeToolChoice) (anthropic.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case convert.ClaudeChoiceAllowed, "":
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}, nil
	case convert.ClaudeChoiceDisabled:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}, nil
	case convert.ClaudeChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}, nil
	case convert.ClaudeChoiceTool:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: choice.Name}}, nil
	default:
		return anthropic.ToolChoiceUnionParam{}, fmt.Errorf("unsupported tool choice mode %q", choice.Mode)
	}
}
