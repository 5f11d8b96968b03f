// Package pulse wraps goa.design/pulse streams behind the narrow interface the
// statesync signal sink and subscriber need. Callers own the Redis connection:
// they build a redis.Client, hand it to New and receive a typed client that
// exposes only stream creation, publishing and consumer groups.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis is the connection backing the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero
		// uses the Pulse default.
		StreamMaxLen int
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Client is the subset of Pulse used by the signal transport.
	Client interface {
		// Stream returns a handle to the named stream, creating it if needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client. The Redis connection
		// belongs to the caller and is left open.
		Close(ctx context.Context) error
	}

	// Stream exposes publishing and consumer group creation on one stream.
	Stream interface {
		// Add appends a payload under the given event name and returns the
		// Redis entry ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group for reading the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and all its entries.
		Destroy(ctx context.Context) error
	}

	// Sink is a Pulse consumer group.
	Sink interface {
		// Subscribe returns the channel of incoming entries.
		Subscribe() <-chan *streaming.Event
		// Ack marks an entry as processed.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink.
		Close(context.Context)
	}
)

type client struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// New builds a Pulse client on the given Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
	}, nil
}

// Stream opens the named Pulse stream.
func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	streamOptions = append(streamOptions, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op since the caller owns the Redis connection.
func (c *client) Close(context.Context) error { return nil }

type handle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, err
	}
	return sinkAdapter{Sink: sink}, nil
}

func (h *handle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// sinkAdapter narrows streaming.Sink to the Sink interface.
type sinkAdapter struct {
	*streaming.Sink
}

func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
