package signal

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Sink receives classified signals, typically to publish them to a transport
// such as a Pulse stream. Implementations must preserve the order of Send
// calls.
type Sink interface {
	// Send delivers one signal.
	Send(ctx context.Context, sig Signal) error
	// Close flushes and releases the sink.
	Close(ctx context.Context) error
}

// Pump drains src into sink until the stream completes, the context is
// cancelled or a send fails. It closes src before returning but leaves sink
// open so callers can reuse it across runs.
func Pump(ctx context.Context, src Stream, sink Sink) error {
	defer src.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sig, err := src.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("signal: receive: %w", err)
		}
		if err := sink.Send(ctx, sig); err != nil {
			return fmt.Errorf("signal: send %s: %w", sig.SignalType(), err)
		}
	}
}
