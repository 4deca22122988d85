// Package ssehttp serves the orchestrator's event stream (C8) to HTTP
// clients as Server-Sent Events, mirroring the wire format the teacher's
// MCP SSE caller consumes on the client side (runtime/mcp/ssecaller.go):
// "event: <type>\ndata: <json>\n\n" frames, flushed after each write.
package ssehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/queryorch/orchestrator/internal/stream"
)

type envelope struct {
	Type      stream.EventType `json:"type"`
	SessionID string           `json:"session_id"`
	Timestamp string           `json:"timestamp"`
	Payload   any              `json:"payload"`
}

// Sink implements stream.Sink by writing SSE frames to an http.ResponseWriter.
// One Sink serves exactly one HTTP response; it is not safe to reuse across
// requests.
type Sink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// New wraps w as a stream.Sink. It sets the response headers required for
// SSE and fails if w does not support flushing (required for incremental
// delivery).
func New(w http.ResponseWriter) (*Sink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ssehttp: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &Sink{w: w, flusher: flusher}, nil
}

// Send implements stream.Sink.
func (s *Sink) Send(_ context.Context, event stream.Event) error {
	env := envelope{
		Type:      event.Type(),
		SessionID: event.SessionID(),
		Timestamp: event.Timestamp().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:   event.Payload(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ssehttp: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type(), data); err != nil {
		return fmt.Errorf("ssehttp: write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Close implements stream.Sink. The HTTP response is closed by the caller
// returning from its handler; Close has nothing further to release.
func (s *Sink) Close(context.Context) error { return nil }
