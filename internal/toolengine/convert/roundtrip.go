package convert

import (
	"fmt"
	"reflect"

	"github.com/toolgate/toolgate/internal/openaiadapter"
)

// RoundTripResult reports a round-trip fidelity check. Mismatches name the
// tool and field that failed to survive OpenAI→Claude→OpenAI conversion.
type RoundTripResult struct {
	Passed     bool
	Mismatches []string
}

// RoundTripTest converts tools OpenAI→Claude→OpenAI and verifies the
// essential fields survive: type, function.name, function.description and
// deep-equal parameters. This is the explicit testable operation backing the
// round-trip property, not hoped-for behavior.
func (c *Converter) RoundTripTest(tools []openaiadapter.Tool) RoundTripResult {
	toClaudeResult := c.ToClaude(tools)
	if !toClaudeResult.Success {
		return RoundTripResult{Mismatches: conversionMismatches("to claude", toClaudeResult.Errors)}
	}

	back := c.FromClaude(toClaudeResult.Converted)
	if !back.Success {
		return RoundTripResult{Mismatches: conversionMismatches("from claude", back.Errors)}
	}

	if len(back.Converted) != len(tools) {
		return RoundTripResult{Mismatches: []string{
			fmt.Sprintf("tool count changed: %d in, %d out", len(tools), len(back.Converted)),
		}}
	}

	var mismatches []string
	for i, original := range tools {
		restored := back.Converted[i]
		name := original.Function.Name

		if restored.Type != original.Type {
			mismatches = append(mismatches, fmt.Sprintf("tool %q: type %q became %q", name, original.Type, restored.Type))
		}
		if restored.Function.Name != name {
			mismatches = append(mismatches, fmt.Sprintf("tool %q: name became %q", name, restored.Function.Name))
		}
		if restored.Function.Description != original.Function.Description {
			mismatches = append(mismatches, fmt.Sprintf("tool %q: description changed", name))
		}
		if !parametersEqual(original.Function.Parameters, restored.Function.Parameters) {
			mismatches = append(mismatches, fmt.Sprintf("tool %q: parameters not deep-equal after round trip", name))
		}
	}

	return RoundTripResult{Passed: len(mismatches) == 0, Mismatches: mismatches}
}

// ValidateBidirectional verifies both conversion directions succeed and the
// round trip preserves the essential fields.
func (c *Converter) ValidateBidirectional(tools []openaiadapter.Tool) RoundTripResult {
	return c.RoundTripTest(tools)
}

// parametersEqual compares schemas structurally, tolerating the deliberate
// type:"object" defaulting applied when properties exist without a type.
func parametersEqual(original, restored map[string]any) bool {
	if reflect.DeepEqual(original, restored) {
		return true
	}
	if original == nil || restored == nil {
		return false
	}
	if _, hadType := original["type"]; !hadType {
		if restoredType, ok := restored["type"].(string); ok && restoredType == "object" {
			trimmed := make(map[string]any, len(restored))
			for k, v := range restored {
				if k != "type" {
					trimmed[k] = v
				}
			}
			return reflect.DeepEqual(original, trimmed)
		}
	}
	return false
}

func conversionMismatches(direction string, errs []ConversionError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, fmt.Sprintf("%s conversion failed at %d (%s): %s", direction, e.Index, e.Code, e.Message))
	}
	return out
}
