package faults

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Priority(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Type
	}{
		{name: "system", message: "internal error in dispatcher", want: TypeSystem},
		{name: "timeout", message: "operation timed out after 30s", want: TypeTimeout},
		{name: "format", message: "malformed arguments payload", want: TypeFormat},
		{name: "validation", message: "schema rejected the definition", want: TypeValidation},
		{name: "processing", message: "coordination failed for batch", want: TypeProcessing},
		{name: "execution", message: "tool failed with exit code 1", want: TypeExecution},
		{name: "catch-all", message: "something odd happened", want: TypeProcessing},

		// Multiple buckets match; priority decides deterministically.
		{name: "system beats timeout", message: "system timeout during startup", want: TypeSystem},
		{name: "timeout beats format", message: "timed out while parsing json", want: TypeTimeout},
		{name: "format beats validation", message: "invalid format in field", want: TypeFormat},
		{name: "validation beats execution", message: "invalid command input", want: TypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message, "").Type)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	message := "invalid format in tool arguments"

	first := Classify(message, "")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Classify(message, ""))
	}
}

func TestClassify_StackFallback(t *testing.T) {
	// The message matches nothing; the stack text decides.
	c := Classify("boom", "goroutine 7: json.Unmarshal parse failure")
	assert.Equal(t, TypeFormat, c.Type)
}

func TestClassify_Recoverability(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		recoverable bool
		action      Action
		retryLimit  int
	}{
		{name: "system never recoverable", message: "internal error", recoverable: false, action: ActionAbort, retryLimit: 0},
		{name: "validation skips", message: "invalid input", recoverable: false, action: ActionSkip, retryLimit: 0},
		{name: "timeout retries", message: "request timed out", recoverable: true, action: ActionRetry, retryLimit: 2},
		{name: "fatal timeout aborts", message: "fatal timeout in scheduler", recoverable: false, action: ActionAbort, retryLimit: 2},
		{name: "format falls back", message: "malformed payload", recoverable: true, action: ActionFallback, retryLimit: 0},
		{name: "corrupt format aborts", message: "corrupt malformed payload", recoverable: false, action: ActionAbort, retryLimit: 0},
		{name: "execution falls back", message: "tool failed", recoverable: true, action: ActionFallback, retryLimit: 1},
		{name: "processing retries", message: "processing hiccup", recoverable: true, action: ActionRetry, retryLimit: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.message, "")
			assert.Equal(t, tt.recoverable, c.Recoverable)
			assert.Equal(t, tt.action, c.Action)
			assert.Equal(t, tt.retryLimit, c.RetryLimit)
		})
	}
}

func TestClassifyError_CodedBypassesKeywords(t *testing.T) {
	// The message says "timeout" but the coded type says validation; the
	// explicit type wins over the keyword scan.
	err := New(TypeValidation, "CHOICE_PROCESSING_TIMEOUT", "resolution exceeded its timeout")

	c := ClassifyError(err)

	assert.Equal(t, TypeValidation, c.Type)
	assert.Equal(t, ActionSkip, c.Action)
}

func TestFormat(t *testing.T) {
	err := New(TypeValidation, "CHOICE_FUNCTION_NOT_FOUND",
		"tool_choice names function %q which is not among the provided tools", "missing").
		WithCall("call_abc", "missing")

	resp := Format(err, map[string]any{"session_id": "sess"})

	assert.Equal(t, "invalid_request_error", resp.Err.Type)
	assert.Equal(t, "CHOICE_FUNCTION_NOT_FOUND", resp.Err.Code)
	assert.Equal(t, "call_abc", resp.Err.ToolCallID)
	assert.Equal(t, "missing", resp.Err.FunctionName)
	assert.Equal(t, "sess", resp.Err.ErrorContext["session_id"])
}

func TestFormat_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 1000)

	resp := Format(errors.New(long), nil)

	assert.Len(t, resp.Err.Message, 256)
	assert.True(t, strings.HasSuffix(resp.Err.Message, "..."))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{typ: TypeValidation, want: http.StatusUnprocessableEntity},
		{typ: TypeFormat, want: http.StatusUnprocessableEntity},
		{typ: TypeExecution, want: http.StatusUnprocessableEntity},
		{typ: TypeTimeout, want: http.StatusRequestTimeout},
		{typ: TypeSystem, want: http.StatusInternalServerError},
		{typ: TypeProcessing, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.typ))
		})
	}
}

func TestHTTPStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusRequestTimeout, HTTPStatusFor(errors.New("deadline exceeded")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatusFor(New(TypeValidation, "X", "nope")))
}

func TestSanitizeContext(t *testing.T) {
	sanitized := SanitizeContext(map[string]any{
		"session_id":    "sess",
		"api_key":       "sk-ant-secret",
		"Authorization": "Bearer abc",
		"nested": map[string]any{
			"password": "hunter2",
			"path":     "/tmp/x",
		},
		"long": strings.Repeat("y", 500),
	})

	assert.Equal(t, "sess", sanitized["session_id"])
	assert.Equal(t, "[REDACTED]", sanitized["api_key"])
	assert.Equal(t, "[REDACTED]", sanitized["Authorization"])

	nested := sanitized["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["password"])
	assert.Equal(t, "/tmp/x", nested["path"])

	assert.Len(t, sanitized["long"].(string), 256)
}

func TestSanitizeContext_Empty(t *testing.T) {
	assert.Nil(t, SanitizeContext(nil))
	assert.Nil(t, SanitizeContext(map[string]any{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "ab...", Truncate("abcdefgh", 5))
	assert.Equal(t, "ab", Truncate("abcdefgh", 2))
}

func TestCodedError_ErrorsAs(t *testing.T) {
	err := New(TypeTimeout, "PROCESSING_TIMEOUT", "took too long")
	wrapped := errors.Join(errors.New("outer"), err)

	var coded *CodedError
	require.True(t, AsCoded(wrapped, &coded))
	assert.Equal(t, "PROCESSING_TIMEOUT", coded.Code)
}
