// Package pulsesink implements stream.Sink by publishing events onto a
// Pulse stream named after the session, so multiple orchestrator nodes can
// share one logical event bus and any node can serve the SSE connection for
// a session regardless of which node is executing its plan. It is grounded
// on the teacher's features/stream/pulse client wrapper and subscriber,
// reusing the same envelope shape on the write side that the subscriber
// already knows how to decode on the read side.
package pulsesink

import (
	"context"
	"encoding/json"
	"fmt"

	clientspulse "github.com/queryorch/orchestrator/internal/stream/pulsesink/clients/pulse"

	"github.com/queryorch/orchestrator/internal/stream"
)

type envelope struct {
	Type      stream.EventType `json:"type"`
	SessionID string           `json:"session_id"`
	Timestamp string           `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// Sink publishes events onto a Pulse stream named "orchestrator:session:<id>".
type Sink struct {
	client clientspulse.Client
	strm   clientspulse.Stream
}

// New opens (or creates) the Pulse stream for sessionID and returns a Sink
// publishing onto it.
func New(ctx context.Context, client clientspulse.Client, sessionID string) (*Sink, error) {
	strm, err := client.Stream("orchestrator:session:" + sessionID)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream: %w", err)
	}
	return &Sink{client: client, strm: strm}, nil
}

// Send implements stream.Sink by publishing the event's JSON envelope.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("pulsesink: marshal payload: %w", err)
	}
	env := envelope{
		Type:      event.Type(),
		SessionID: event.SessionID(),
		Timestamp: event.Timestamp().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulsesink: marshal envelope: %w", err)
	}
	if _, err := s.strm.Add(ctx, string(event.Type()), body); err != nil {
		return fmt.Errorf("pulsesink: publish event: %w", err)
	}
	return nil
}

// Close implements stream.Sink. The underlying Pulse stream outlives the
// session (other nodes or late SSE subscribers may still read it), so Close
// intentionally does not destroy it; only the client connection is the
// caller's to close.
func (s *Sink) Close(context.Context) error { return nil }
