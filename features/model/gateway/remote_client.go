package gateway

import (
	"context"

	"goa.design/statesync/runtime/model"
)

// RemoteClient implements model.Client using caller-supplied RPC functions
// that operate on the runtime model types. This keeps the adapter agnostic of
// the concrete transport and generated packages.
type RemoteClient struct {
	doComplete func(ctx context.Context, req model.Request) (model.Response, error)
	doStream   func(ctx context.Context, req model.Request) (model.Streamer, error)
}

// NewRemoteClient constructs a model.Client from normalized RPC functions.
func NewRemoteClient(
	complete func(ctx context.Context, req model.Request) (model.Response, error),
	stream func(ctx context.Context, req model.Request) (model.Streamer, error),
) *RemoteClient {
	return &RemoteClient{doComplete: complete, doStream: stream}
}

// Complete implements model.Client.
func (c *RemoteClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return c.doComplete(ctx, req)
}

// Stream implements model.Client.
func (c *RemoteClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return c.doStream(ctx, req)
}
