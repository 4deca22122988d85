// Package pulse is a thin wrapper around goa.design/pulse streaming,
// exposing only the Add/NewSink operations the orchestrator's stream sink
// and subscribers need. Grounded on the teacher's own
// features/stream/pulse/clients/pulse wrapper.
package pulse

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		Redis            *redis.Client
		StreamMaxLen     int
		OperationTimeout time.Duration
	}

	// Client exposes the Pulse operations the orchestrator's stream layer needs.
	Client interface {
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		Close(ctx context.Context) error
	}

	// Stream publishes events to and creates consumer-group sinks over one
	// named Pulse stream.
	Stream interface {
		Add(ctx context.Context, event string, payload []byte) (string, error)
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		Destroy(ctx context.Context) error
	}

	// Sink is a Pulse consumer group reading from one Stream.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(context.Context, *streaming.Event) error
		Close(context.Context)
	}
)

type client struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// New constructs a Pulse client backed by redisClient.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	strmOpts := opts
	if c.maxLen > 0 {
		strmOpts = append(strmOpts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	s, err := streaming.NewStream(name, c.redis, strmOpts...)
	if err != nil {
		return nil, err
	}
	return &stream{stream: s, timeout: c.timeout}, nil
}

func (c *client) Close(context.Context) error { return nil }

type stream struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (s *stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.stream.Add(ctx, event, payload)
}

func (s *stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	return s.stream.NewSink(ctx, name, opts...)
}

func (s *stream) Destroy(ctx context.Context) error {
	return s.stream.Destroy(ctx)
}
