// Package faults classifies tool-engine failures into a flat taxonomy,
// decides recoverability and recovery actions, and renders OpenAI-shaped
// error responses. Classification is a pure function of the error message
// and stack text, so identical failures always land in the same bucket.
package faults

import "strings"

// Type is the failure taxonomy shared across the engine.
type Type string

const (
	TypeValidation Type = "validation_error"
	TypeTimeout    Type = "timeout_error"
	TypeFormat     Type = "format_error"
	TypeExecution  Type = "execution_error"
	TypeSystem     Type = "system_error"
	TypeProcessing Type = "processing_error"
)

// Action is the recommended recovery action for a classified failure.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionSkip     Action = "skip"
	ActionFallback Action = "fallback"
	ActionAbort    Action = "abort"
)

// Classification is the result of classifying one failure.
type Classification struct {
	Type        Type
	Recoverable bool
	Action      Action
	RetryLimit  int
}

// keywordSets orders the taxonomy buckets by matching priority. Multiple
// keyword sets can match one message ("invalid format" matches both format
// and validation), so the first match wins and the order below must not be
// reshuffled: system > timeout > format > validation > processing > execution.
var keywordSets = []struct {
	typ      Type
	keywords []string
}{
	{TypeSystem, []string{"system", "internal error", "out of memory", "panic", "segfault"}},
	{TypeTimeout, []string{"timeout", "timed out", "deadline exceeded", "too slow"}},
	{TypeFormat, []string{"format", "malformed", "parse", "unmarshal", "serializ", "json"}},
	{TypeValidation, []string{"validation", "invalid", "schema", "required field", "not allowed", "reserved"}},
	{TypeProcessing, []string{"processing", "process failed", "coordination"}},
	{TypeExecution, []string{"execution", "execute", "tool failed", "command"}},
}

// nonRecoverableMarkers force Recoverable=false regardless of classified type.
var nonRecoverableMarkers = []string{"fatal", "critical", "permanent", "corrupt"}

// Classify buckets a failure by its message, falling back to the stack text
// when the message alone matches nothing. Unmatched failures classify as
// processing (the catch-all).
func Classify(message, stack string) Classification {
	typ := matchType(strings.ToLower(message))
	if typ == "" {
		typ = matchType(strings.ToLower(stack))
	}
	if typ == "" {
		typ = TypeProcessing
	}

	recoverable := isRecoverable(typ, strings.ToLower(message))

	return Classification{
		Type:        typ,
		Recoverable: recoverable,
		Action:      actionFor(typ, recoverable),
		RetryLimit:  retryLimitFor(typ),
	}
}

// ClassifyError is Classify for error values, with an empty stack.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Type: TypeProcessing, Recoverable: true, Action: ActionRetry, RetryLimit: retryLimitFor(TypeProcessing)}
	}
	var coded *CodedError
	if AsCoded(err, &coded) {
		recoverable := isRecoverable(coded.Type, strings.ToLower(coded.Message))
		return Classification{
			Type:        coded.Type,
			Recoverable: recoverable,
			Action:      actionFor(coded.Type, recoverable),
			RetryLimit:  retryLimitFor(coded.Type),
		}
	}
	return Classify(err.Error(), "")
}

func matchType(text string) Type {
	if text == "" {
		return ""
	}
	for _, set := range keywordSets {
		for _, kw := range set.keywords {
			if strings.Contains(text, kw) {
				return set.typ
			}
		}
	}
	return ""
}

func isRecoverable(typ Type, loweredMessage string) bool {
	if typ == TypeSystem {
		return false
	}
	for _, marker := range nonRecoverableMarkers {
		if strings.Contains(loweredMessage, marker) {
			return false
		}
	}
	// Validation failures are deterministic: retrying the same input cannot succeed.
	return typ != TypeValidation
}

// actionFor maps (type, recoverable) to the recovery action deterministically.
func actionFor(typ Type, recoverable bool) Action {
	switch typ {
	case TypeValidation:
		return ActionSkip
	case TypeSystem:
		return ActionAbort
	case TypeTimeout:
		if recoverable {
			return ActionRetry
		}
		return ActionAbort
	case TypeFormat:
		if recoverable {
			return ActionFallback
		}
		return ActionAbort
	case TypeProcessing:
		if recoverable {
			return ActionRetry
		}
		return ActionAbort
	case TypeExecution:
		if recoverable {
			return ActionFallback
		}
		return ActionAbort
	default:
		return ActionAbort
	}
}

// retryLimitFor returns the recommended caller-driven retry count per type.
func retryLimitFor(typ Type) int {
	switch typ {
	case TypeTimeout:
		return 2
	case TypeProcessing, TypeExecution:
		return 1
	default:
		return 0
	}
}
