package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/statesync/features/stream/pulse/clients/pulse"
	"goa.design/statesync/runtime/signal"
)

type fakeClient struct {
	streamFn func(name string) (clientspulse.Stream, error)
	closed   bool
}

func (f *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	return f.streamFn(name)
}

func (f *fakeClient) Close(context.Context) error {
	f.closed = true
	return nil
}

type fakeStream struct {
	addFn   func(ctx context.Context, event string, payload []byte) (string, error)
	sinkFn  func(ctx context.Context, name string) (clientspulse.Sink, error)
	destroy bool
}

func (f *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return f.addFn(ctx, event, payload)
}

func (f *fakeStream) NewSink(ctx context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	if f.sinkFn == nil {
		return nil, errors.New("no sink")
	}
	return f.sinkFn(ctx, name)
}

func (f *fakeStream) Destroy(context.Context) error {
	f.destroy = true
	return nil
}

type fakeSink struct {
	events chan *streaming.Event
	acked  []string
}

func (f *fakeSink) Subscribe() <-chan *streaming.Event { return f.events }

func (f *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	f.acked = append(f.acked, evt.ID)
	return nil
}

func (f *fakeSink) Close(context.Context) {}

func TestSendPublishesEnvelope(t *testing.T) {
	var (
		gotEvent   string
		gotPayload []byte
	)
	str := &fakeStream{addFn: func(_ context.Context, event string, payload []byte) (string, error) {
		gotEvent = event
		gotPayload = payload
		return "1-0", nil
	}}
	cli := &fakeClient{streamFn: func(name string) (clientspulse.Stream, error) {
		assert.Equal(t, "conversation/conv-1", name)
		return str, nil
	}}

	sink, err := NewSink(Options{Client: cli, Conversation: "conv-1"})
	require.NoError(t, err)

	err = sink.Send(context.Background(), signal.Snapshot{Document: json.RawMessage(`{"title":"Stew"}`)})
	require.NoError(t, err)

	assert.Equal(t, "snapshot", gotEvent)
	var env struct {
		Type         string          `json:"type"`
		Conversation string          `json:"conversation_id"`
		Payload      json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(gotPayload, &env))
	assert.Equal(t, "snapshot", env.Type)
	assert.Equal(t, "conv-1", env.Conversation)
	var body signal.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.JSONEq(t, `{"title":"Stew"}`, string(body.Document))
}

func TestSendFlattensRawSignal(t *testing.T) {
	var gotPayload []byte
	str := &fakeStream{addFn: func(_ context.Context, _ string, payload []byte) (string, error) {
		gotPayload = payload
		return "1-0", nil
	}}
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return str, nil }}

	sink, err := NewSink(Options{Client: cli, Conversation: "conv-1"})
	require.NoError(t, err)

	ev := textEvent("assistant", "hello")
	require.NoError(t, sink.Send(context.Background(), signal.Raw{Event: ev}))

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(gotPayload, &env))
	assert.Equal(t, "raw", env.Type)
	var decoded struct {
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "assistant", decoded.Role)
}

func TestOnPublishedCalled(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "42-0", nil
	}}
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return str, nil }}

	var got PublishedEvent
	sink, err := NewSink(Options{
		Client:       cli,
		Conversation: "conv-1",
		OnPublished: func(_ context.Context, ev PublishedEvent) error {
			got = ev
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), signal.Text{Text: "hi"}))
	assert.Equal(t, "42-0", got.EntryID)
	assert.Equal(t, "conversation/conv-1", got.StreamID)
	assert.Equal(t, signal.TypeText, got.Signal.SignalType())
}

func TestOnPublishedErrorPropagates(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "1-0", nil
	}}
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return str, nil }}

	sink, err := NewSink(Options{
		Client:       cli,
		Conversation: "conv-1",
		OnPublished: func(context.Context, PublishedEvent) error {
			return errors.New("after-publish")
		},
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), signal.Text{Text: "hi"})
	require.EqualError(t, err, "after-publish")
}

func TestCustomStreamID(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "1-0", nil
	}}
	cli := &fakeClient{streamFn: func(name string) (clientspulse.Stream, error) {
		assert.Equal(t, "signals/text", name)
		return str, nil
	}}

	sink, err := NewSink(Options{
		Client: cli,
		StreamID: func(sig signal.Signal) (string, error) {
			return "signals/" + string(sig.SignalType()), nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), signal.Text{Text: "hi"}))
}

func TestNewSinkValidatesOptions(t *testing.T) {
	_, err := NewSink(Options{Conversation: "conv-1"})
	require.Error(t, err)

	_, err = NewSink(Options{Client: &fakeClient{}})
	require.Error(t, err)
}

func TestStreamCreationError(t *testing.T) {
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) {
		return nil, errors.New("boom")
	}}
	sink, err := NewSink(Options{Client: cli, Conversation: "conv-1"})
	require.NoError(t, err)

	err = sink.Send(context.Background(), signal.Text{Text: "hi"})
	require.EqualError(t, err, "boom")
}

func TestAddError(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "", errors.New("add-failed")
	}}
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return str, nil }}
	sink, err := NewSink(Options{Client: cli, Conversation: "conv-1"})
	require.NoError(t, err)

	err = sink.Send(context.Background(), signal.Text{Text: "hi"})
	require.EqualError(t, err, "add-failed")
}

func TestCloseDelegates(t *testing.T) {
	cli := &fakeClient{}
	sink, err := NewSink(Options{Client: cli, Conversation: "conv-1"})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, cli.closed)
}
