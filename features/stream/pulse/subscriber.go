package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/statesync/features/stream/pulse/clients/pulse"
	"goa.design/statesync/runtime/signal"
	"goa.design/statesync/runtime/update"
)

type (
	// Received pairs a decoded signal with its envelope metadata.
	Received struct {
		// Signal is the decoded signal.
		Signal signal.Signal
		// Conversation is the conversation ID recorded in the envelope.
		Conversation string
		// Timestamp is the publish time recorded in the envelope.
		Timestamp time.Time
	}

	// EnvelopeDecoder converts a raw stream payload into a received signal.
	EnvelopeDecoder func([]byte) (Received, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume. Required.
		Client clientspulse.Client
		// SinkName identifies the consumer group. Defaults to
		// "statesync_subscriber".
		SinkName string
		// Buffer is the signal channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes payloads. Defaults to the built-in envelope
		// decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes a Pulse stream and emits the signals published by
	// the sink.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "statesync_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a consumer group on the given stream and returns channels
// for decoded signals and errors. The returned cancel function stops
// consumption and closes both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan Received, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	out := make(chan Received, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, out, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, errs, cancelFunc, nil
}

// consume drains the Pulse sink, decodes envelopes and acks each entry once
// it has been emitted.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- Received, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the default envelope format back into a typed
// signal.
func decodeEnvelope(payload []byte) (Received, error) {
	var env struct {
		Type         string          `json:"type"`
		Conversation string          `json:"conversation_id"`
		Timestamp    time.Time       `json:"timestamp"`
		Payload      json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return Received{}, err
	}
	sig, err := decodeSignal(signal.Type(env.Type), env.Payload)
	if err != nil {
		return Received{}, err
	}
	return Received{Signal: sig, Conversation: env.Conversation, Timestamp: env.Timestamp}, nil
}

func decodeSignal(t signal.Type, payload json.RawMessage) (signal.Signal, error) {
	switch t {
	case signal.TypeRaw:
		var ev update.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		return signal.Raw{Event: &ev}, nil
	case signal.TypeConversationID:
		var sig signal.ConversationID
		err := json.Unmarshal(payload, &sig)
		return sig, err
	case signal.TypeText:
		var sig signal.Text
		err := json.Unmarshal(payload, &sig)
		return sig, err
	case signal.TypeToolCall:
		var sig signal.ToolCall
		err := json.Unmarshal(payload, &sig)
		return sig, err
	case signal.TypeToolResult:
		var sig signal.ToolResult
		err := json.Unmarshal(payload, &sig)
		return sig, err
	case signal.TypeSnapshot:
		var sig signal.Snapshot
		err := json.Unmarshal(payload, &sig)
		return sig, err
	case signal.TypeDelta:
		var sig signal.Delta
		err := json.Unmarshal(payload, &sig)
		return sig, err
	default:
		return nil, fmt.Errorf("unknown signal type %q", t)
	}
}
