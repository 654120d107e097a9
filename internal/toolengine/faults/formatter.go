package faults

import (
	"errors"
	"net/http"
	"strings"

	"github.com/toolgate/toolgate/internal/openaiadapter"
)

// maxMessageLength bounds client-facing error messages. Raw internal errors
// can embed large payload fragments; everything past the cap is elided.
const maxMessageLength = 256

// maxContextValueLength bounds individual errorContext values.
const maxContextValueLength = 256

const redactedPlaceholder = "[REDACTED]"

// sensitiveKeyFragments flags context keys whose values must never cross the
// HTTP boundary.
var sensitiveKeyFragments = []string{
	"password", "secret", "token", "api_key", "apikey", "authorization", "credential", "cookie",
}

// Format renders any engine failure as an OpenAI-shaped error response.
// CodedErrors keep their code and correlation fields; everything else is
// classified by message first.
func Format(err error, context map[string]any) *openaiadapter.ErrorResponse {
	classification := ClassifyError(err)

	oaiErr := openaiadapter.Error{
		Message:      Truncate(errMessage(err), maxMessageLength),
		Type:         openAIType(classification.Type),
		Code:         string(classification.Type),
		ErrorContext: SanitizeContext(context),
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		oaiErr.Code = coded.Code
		oaiErr.ToolCallID = coded.ToolCallID
		oaiErr.FunctionName = coded.FunctionName
	}

	return &openaiadapter.ErrorResponse{Err: oaiErr}
}

// HTTPStatus maps a taxonomy type to the gateway's HTTP status contract:
// validation/format/execution are client-remediable (422), timeouts are 408,
// system failures and the catch-all are 500.
func HTTPStatus(typ Type) int {
	switch typ {
	case TypeValidation, TypeFormat, TypeExecution:
		return http.StatusUnprocessableEntity
	case TypeTimeout:
		return http.StatusRequestTimeout
	case TypeSystem:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatusFor resolves the status for an arbitrary error via classification.
func HTTPStatusFor(err error) int {
	return HTTPStatus(ClassifyError(err).Type)
}

// openAIType translates the internal taxonomy into OpenAI's error-type vocabulary.
func openAIType(typ Type) string {
	switch typ {
	case TypeValidation, TypeFormat, TypeExecution:
		return "invalid_request_error"
	case TypeTimeout:
		return "timeout_error"
	case TypeSystem, TypeProcessing:
		return "api_error"
	default:
		return "api_error"
	}
}

// Truncate elides text past limit with a marker so clients can tell the
// message was cut rather than complete.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}

// SanitizeContext redacts sensitive-looking keys and caps value sizes before
// context crosses the HTTP boundary. Nested maps are sanitized recursively.
func SanitizeContext(context map[string]any) map[string]any {
	if len(context) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(context))
	for key, value := range context {
		if isSensitiveKey(key) {
			sanitized[key] = redactedPlaceholder
			continue
		}
		switch v := value.(type) {
		case string:
			sanitized[key] = Truncate(v, maxContextValueLength)
		case map[string]any:
			sanitized[key] = SanitizeContext(v)
		default:
			sanitized[key] = v
		}
	}
	return sanitized
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
