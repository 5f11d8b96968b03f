// Package pulse exposes a signal.Sink that publishes classified signals to
// goa.design/pulse streams, and a subscriber that reads them back. Services
// build a Redis client, wrap it in the Pulse client and hand the resulting
// sink to signal.Pump; remote consumers subscribe to the same stream to mirror
// the conversation state.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "goa.design/statesync/features/stream/pulse/clients/pulse"
	"goa.design/statesync/runtime/signal"
)

type (
	// PublishedEvent describes one signal after it has been written to the
	// stream.
	PublishedEvent struct {
		// Signal is the published signal.
		Signal signal.Signal
		// StreamID names the Pulse stream written to.
		StreamID string
		// EntryID is the Redis entry ID assigned to the envelope.
		EntryID string
	}

	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish. Required.
		Client clientspulse.Client
		// Conversation identifies the conversation whose signals the sink
		// publishes. Used by the default stream naming; required unless
		// StreamID is set.
		Conversation string
		// StreamID overrides the stream name derivation.
		StreamID func(signal.Signal) (string, error)
		// OnPublished is invoked after each successful publish. A returned
		// error fails the Send.
		OnPublished func(context.Context, PublishedEvent) error
	}

	// Sink publishes signals into Pulse streams. Safe for concurrent Send
	// calls.
	Sink struct {
		client       clientspulse.Client
		conversation string
		streamID     func(signal.Signal) (string, error)
		onPublished  func(context.Context, PublishedEvent) error
	}

	// envelope is the wire form of a published signal.
	envelope struct {
		// Type is the signal kind.
		Type string `json:"type"`
		// Conversation identifies the conversation the signal belongs to.
		Conversation string `json:"conversation_id,omitempty"`
		// Timestamp records when the signal was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload is the signal body.
		Payload any `json:"payload,omitempty"`
	}
)

// NewSink constructs a Pulse-backed signal sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.Conversation == "" && opts.StreamID == nil {
		return nil, errors.New("conversation id is required")
	}
	s := &Sink{
		client:      opts.Client,
		streamID:    opts.StreamID,
		onPublished: opts.OnPublished,
	}
	if s.streamID == nil {
		name := fmt.Sprintf("conversation/%s", opts.Conversation)
		s.streamID = func(signal.Signal) (string, error) { return name, nil }
	}
	s.conversation = opts.Conversation
	return s, nil
}

// Send implements signal.Sink. It wraps the signal in an envelope, marshals
// it to JSON and appends it to the derived Pulse stream under the signal's
// type name.
func (s *Sink) Send(ctx context.Context, sig signal.Signal) error {
	streamID, err := s.streamID(sig)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := envelope{
		Type:         string(sig.SignalType()),
		Conversation: s.conversation,
		Timestamp:    time.Now().UTC(),
		Payload:      envelopePayload(sig),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse marshal envelope: %w", err)
	}
	id, err := handle.Add(ctx, env.Type, payload)
	if err != nil {
		return err
	}
	if s.onPublished != nil {
		return s.onPublished(ctx, PublishedEvent{Signal: sig, StreamID: streamID, EntryID: id})
	}
	return nil
}

// Close implements signal.Sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// envelopePayload flattens Raw signals to the event itself so subscribers do
// not see the wrapper struct.
func envelopePayload(sig signal.Signal) any {
	if raw, ok := sig.(signal.Raw); ok {
		return raw.Event
	}
	return sig
}
