// Package gateway provides a transport-agnostic server and client wrapper for
// model completion. It exposes composable middleware for unary and streaming
// requests and can be paired with any RPC layer by supplying provider and
// caller functions that operate on the runtime model types.
package gateway

import (
	"context"
	"errors"
	"io"

	"goa.design/statesync/runtime/model"
)

type (
	// Server adapts a model.Client into a composable request handler with
	// middleware support for both unary and streaming completions.
	//
	// Middleware is applied in registration order: the first middleware
	// registered wraps all subsequent ones, forming an onion structure where
	// the innermost layer invokes the provider client.
	Server struct {
		provider model.Client
		unary    UnaryHandler
		stream   StreamHandler
	}

	// UnaryHandler processes a single completion request.
	UnaryHandler func(ctx context.Context, req model.Request) (model.Response, error)

	// StreamHandler processes a streaming completion by invoking send for
	// each chunk. send must be called sequentially; returning an error from
	// send aborts the stream.
	StreamHandler func(ctx context.Context, req model.Request, send func(model.Chunk) error) error

	// UnaryMiddleware wraps a UnaryHandler with behavior before, after or
	// around the handler invocation.
	UnaryMiddleware func(next UnaryHandler) UnaryHandler

	// StreamMiddleware wraps a StreamHandler. Implementations must preserve
	// the sequential semantics of the send callback.
	StreamMiddleware func(next StreamHandler) StreamHandler

	// Option configures a Server during construction.
	Option func(*serverConfig)

	serverConfig struct {
		provider model.Client
		unaryMW  []UnaryMiddleware
		streamMW []StreamMiddleware
	}
)

// ErrProviderRequired indicates that a provider model.Client must be supplied.
var ErrProviderRequired = errors.New("model gateway: provider is required")

// WithProvider sets the underlying model client. Required.
func WithProvider(p model.Client) Option {
	return func(c *serverConfig) { c.provider = p }
}

// WithUnary appends middleware to the unary completion chain. The first
// registered middleware forms the outermost layer.
func WithUnary(mw ...UnaryMiddleware) Option {
	return func(c *serverConfig) { c.unaryMW = append(c.unaryMW, mw...) }
}

// WithStream appends middleware to the streaming completion chain.
func WithStream(mw ...StreamMiddleware) Option {
	return func(c *serverConfig) { c.streamMW = append(c.streamMW, mw...) }
}

// NewServer constructs a Server with the provided options. The Server has no
// built-in policy; all behavior is composed via registered middleware around
// the base provider handlers.
func NewServer(opts ...Option) (*Server, error) {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, ErrProviderRequired
	}
	baseUnary := func(ctx context.Context, req model.Request) (model.Response, error) {
		return cfg.provider.Complete(ctx, req)
	}
	baseStream := func(ctx context.Context, req model.Request, send func(model.Chunk) error) error {
		st, err := cfg.provider.Stream(ctx, req)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		for {
			ch, err := st.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := send(ch); err != nil {
				return err
			}
		}
	}
	unary := baseUnary
	for i := len(cfg.unaryMW) - 1; i >= 0; i-- {
		unary = cfg.unaryMW[i](unary)
	}
	stream := baseStream
	for i := len(cfg.streamMW) - 1; i >= 0; i-- {
		stream = cfg.streamMW[i](stream)
	}
	return &Server{provider: cfg.provider, unary: unary, stream: stream}, nil
}

// Complete runs a unary completion through the middleware chain.
func (s *Server) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return s.unary(ctx, req)
}

// Stream runs a streaming completion through the middleware chain, invoking
// send for each chunk produced.
func (s *Server) Stream(ctx context.Context, req model.Request, send func(model.Chunk) error) error {
	return s.stream(ctx, req, send)
}
