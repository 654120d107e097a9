package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter writes server-sent events in the format OpenAI streaming clients
// consume. Every write is flushed immediately so chunks reach the client as
// they are produced.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares the response for event streaming. Fails when the
// underlying ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes an event type line. Must be followed by WriteData to
// complete the event.
func (s *SSEWriter) WriteEvent(name string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
		return fmt.Errorf("write event type: %w", err)
	}
	return nil
}

// WriteData marshals v as JSON and writes it as an event data line.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteRaw writes a literal data line, used for the [DONE] stream terminator.
func (s *SSEWriter) WriteRaw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write raw data: %w", err)
	}
	s.flusher.Flush()
	return nil
}
