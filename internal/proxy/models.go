package proxy

import (
	_ "embed"
	"log/slog"
	"net/http"
)

//go:embed models.json
var modelsJSON []byte

// modelsHandler returns a static list of available models in OpenAI list
// format so clients can populate model pickers without an upstream call.
// Anthropic-specific fields are included alongside the OpenAI ones; clients
// ignore the fields they don't know.
func modelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(modelsJSON); err != nil {
			slog.ErrorContext(r.Context(), "failed to write response", "error", err)
		}
	}
}
