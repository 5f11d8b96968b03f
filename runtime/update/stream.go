package update

import (
	"context"
	"io"
)

type (
	// Stream delivers the ordered update events of one agent run. Successive
	// calls to Recv return events until io.EOF. Streams are consumed by a
	// single goroutine; Close releases any underlying resources and is safe
	// to call more than once.
	Stream interface {
		// Recv returns the next event from the stream.
		Recv() (*Event, error)
		// Close closes the stream.
		Close() error
	}

	// Agent is the single capability this module composes: consume a
	// conversation input and produce an ordered event stream. Pipelines are
	// built by chaining stream transforms on top of an agent's run, never by
	// subclassing one.
	Agent interface {
		// Run starts one conversation turn. The returned stream must be
		// drained or closed by the caller. Cancellation of ctx terminates
		// the stream.
		Run(ctx context.Context, input Input) (Stream, error)
	}

	// Input is the conversation input for a single run.
	Input struct {
		// ConversationID carries the session identifier, when known.
		ConversationID string
		// Text is the user's request text.
		Text string
	}

	// Transform is a composable pipeline stage from stream to stream.
	Transform func(Stream) Stream

	// sliceStream replays a fixed sequence of events. Used by tests and by
	// stages that synthesize bounded streams.
	sliceStream struct {
		events []*Event
		pos    int
	}
)

// Chain applies the given transforms to src in order and returns the
// resulting stream. Chain with no stages returns src unchanged.
func Chain(src Stream, stages ...Transform) Stream {
	out := src
	for _, stage := range stages {
		out = stage(out)
	}
	return out
}

// Replay returns a stream that yields the given events in order and then
// io.EOF.
func Replay(events ...*Event) Stream {
	return &sliceStream{events: events}
}

// Recv implements Stream.
func (s *sliceStream) Recv() (*Event, error) {
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Close implements Stream.
func (s *sliceStream) Close() error {
	s.pos = len(s.events)
	return nil
}
