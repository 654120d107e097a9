package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/toolgate/toolgate/internal/openaiadapter"
)

// ToOpenAIError converts any provider error into OpenAI-compatible error
// format. The Anthropic SDK returns different error shapes for streaming vs
// non-streaming requests, so both are normalized into one ErrorResponse.
// Non-Anthropic errors (network, timeouts) are wrapped as generic server_error.
func ToOpenAIError(err error) *openaiadapter.ErrorResponse {
	if err == nil {
		return nil
	}

	// Non-streaming: *anthropic.Error provides structured error via RawJSON()
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if errorResp, parseErr := parseErrorResponseJSON(apiErr.RawJSON()); parseErr == nil {
			return &openaiadapter.ErrorResponse{Err: openaiadapter.Error{
				Message: errorResp.Error.Message,
				Type:    mapAnthropicErrorType(errorResp.Error.Type),
			}}
		}
		return &openaiadapter.ErrorResponse{Err: openaiadapter.Error{
			Message: apiErr.Error(),
			Type:    "api_error",
		}}
	}

	// streamingErrorPrefix is the prefix used by the Anthropic SDK when wrapping streaming errors.
	const streamingErrorPrefix = "received error while streaming: "

	if jsonStr, ok := strings.CutPrefix(err.Error(), streamingErrorPrefix); ok {
		if errorResp, parseErr := parseErrorResponseJSON(jsonStr); parseErr == nil {
			return &openaiadapter.ErrorResponse{Err: openaiadapter.Error{
				Message: errorResp.Error.Message,
				Type:    mapAnthropicErrorType(errorResp.Error.Type),
			}}
		}
	}

	return &openaiadapter.ErrorResponse{Err: openaiadapter.Error{
		Message: err.Error(),
		Type:    "server_error",
	}}
}

// parseErrorResponseJSON parses Anthropic error JSON into a structured
// ErrorResponse. Shared by the non-streaming (RawJSON) and streaming (error
// string) paths.
func parseErrorResponseJSON(jsonStr string) (*anthropic.ErrorResponse, error) {
	var errorResp anthropic.ErrorResponse
	if err := json.Unmarshal([]byte(jsonStr), &errorResp); err != nil {
		return nil, fmt.Errorf("failed to parse Anthropic error JSON: %w", err)
	}
	return &errorResp, nil
}

// mapAnthropicErrorType translates the Anthropic error taxonomy to
// OpenAI-compatible error types.
func mapAnthropicErrorType(anthropicType string) string {
	switch anthropicType {
	case "overloaded_error":
		return "server_error"
	case "rate_limit_error":
		return "rate_limit_error"
	case "invalid_request_error":
		return "invalid_request_error"
	case "authentication_error":
		return "authentication_error"
	case "permission_error":
		return "permission_denied"
	case "not_found_error":
		return "invalid_request_error"
	case "timeout_error":
		return "server_error"
	case "api_error":
		return "api_error"
	case "billing_error":
		return "insufficient_quota"
	default:
		// Unknown error types default to api_error for safe handling
		return "api_error"
	}
}
