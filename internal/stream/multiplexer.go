package stream

import (
	"context"
	"sync"
)

// Multiplexer is the single writer guaranteeing event order: concurrent
// producers (executor workers, the classifier, the aggregator) call Emit
// from goroutines, and Multiplexer serializes delivery to the underlying
// Sink through one internal goroutine draining a buffered channel, so the
// sink always observes a single, deterministic happens-before order even
// though production is concurrent.
type Multiplexer struct {
	sink   Sink
	events chan Event
	done   chan struct{}
	once   sync.Once
	errMu  sync.Mutex
	err    error
}

// NewMultiplexer starts the draining goroutine for sink. bufferSize bounds
// how many not-yet-delivered events may queue before Emit blocks.
func NewMultiplexer(sink Sink, bufferSize int) *Multiplexer {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	m := &Multiplexer{
		sink:   sink,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go m.drain()
	return m
}

func (m *Multiplexer) drain() {
	defer close(m.done)
	ctx := context.Background()
	for event := range m.events {
		if err := m.sink.Send(ctx, event); err != nil {
			m.errMu.Lock()
			if m.err == nil {
				m.err = err
			}
			m.errMu.Unlock()
		}
	}
}

// Emit enqueues event for delivery, preserving the order in which Emit was
// called relative to other Emit calls that returned before this one began
// (external synchronization is still required to order events produced by
// logically sequential stages, e.g. classifying before databases_selected).
func (m *Multiplexer) Emit(ctx context.Context, event Event) error {
	select {
	case m.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new events, waits for the queue to drain, and
// closes the underlying sink. It returns the first delivery error observed,
// if any.
func (m *Multiplexer) Close(ctx context.Context) error {
	m.once.Do(func() { close(m.events) })
	select {
	case <-m.done:
	case <-ctx.Done():
	}
	if err := m.sink.Close(ctx); err != nil {
		m.errMu.Lock()
		if m.err == nil {
			m.err = err
		}
		m.errMu.Unlock()
	}
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}
