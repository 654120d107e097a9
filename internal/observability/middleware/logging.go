package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// Logging emits one structured log line per request: method, path, status,
// duration. Bodies are never logged; chat-completion payloads carry user
// conversations and tool arguments.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		LogRequestHeaders:  []string{"Content-Type", "X-Session-Id"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		// Panics are handled by the proxy's recovery middleware.
		RecoverPanics: false,
	})
}

// SetLogAttrs attaches attributes to the in-flight request's log line.
func SetLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}
