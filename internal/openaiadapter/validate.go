package openaiadapter

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// RequestValidator performs request-level validation (roles, parameter
// ranges, required fields) before a request reaches the tool engine.
// Tool schema and tool_choice semantics are validated separately by the
// engine; this layer only covers the plain chat-completion contract.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator with struct-tag rules attached.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateRequest checks the request against its declared constraints and
// the cross-field rules tags cannot express. The returned error is
// client-facing: field path plus the violated rule.
func (v *RequestValidator) ValidateRequest(req *ChatCompletionRequest) error {
	if err := v.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	// tool_choice referencing tools requires tools to be present at all;
	// name-level membership is checked by the choice resolver.
	if req.ToolChoice != nil && req.ToolChoice.IsNamed() && len(req.Tools) == 0 {
		return fmt.Errorf("tool_choice names a function but the request carries no tools")
	}

	for i, msg := range req.Messages {
		if msg.Role == "tool" && msg.ToolCallID == "" {
			return fmt.Errorf("messages[%d]: tool message requires tool_call_id", i)
		}
	}

	return nil
}
