package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/statesync/runtime/model"
	"goa.design/statesync/runtime/update"
)

type fakeClient struct {
	streams       [][]model.Chunk
	requests      []model.Request
	streamErr     error
	completeResp  model.Response
	completeCalls int
}

func (c *fakeClient) Stream(_ context.Context, req model.Request) (model.Streamer, error) {
	c.requests = append(c.requests, req)
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	if len(c.streams) == 0 {
		return nil, errors.New("fake: no more streams")
	}
	chunks := c.streams[0]
	c.streams = c.streams[1:]
	return &chunkReplay{chunks: chunks}, nil
}

func (c *fakeClient) Complete(_ context.Context, req model.Request) (model.Response, error) {
	c.completeCalls++
	return c.completeResp, nil
}

func textChunks(parts ...string) []model.Chunk {
	chunks := make([]model.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = model.Chunk{Type: model.ChunkTypeText, Text: p}
	}
	return chunks
}

func newOrchestrator(t *testing.T, client model.Client) *Orchestrator {
	t.Helper()
	n := 0
	o, err := New(Options{
		Client: client,
		Model:  "test-model",
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	require.NoError(t, err)
	return o
}

func drain(t *testing.T, s update.Stream) []*update.Event {
	t.Helper()
	var events []*update.Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestRecipeFlowEmitsSnapshotThenSummary(t *testing.T) {
	client := &fakeClient{streams: [][]model.Chunk{
		textChunks(`{"title":"Caesar `, `Salad","ingredients":["romaine","croutons"]}`),
		textChunks("Added croutons ", "to the salad."),
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{
		ConversationID: "conv-1",
		Text:           "add croutons",
		State:          []byte(`{"title":"Caesar Salad","ingredients":["romaine"]}`),
	})
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 3)
	data := events[0].Contents[0].(update.DataContent)
	assert.Equal(t, update.MediaSnapshot, data.MediaKind)
	assert.JSONEq(t, `{"title":"Caesar Salad","ingredients":["romaine","croutons"]}`, string(data.Bytes))
	assert.Equal(t, "conv-1", events[0].ConversationID)
	assert.Equal(t, "Added croutons ", events[1].Text())
	assert.Equal(t, "to the salad.", events[2].Text())

	// Phase 1 requested strict schema output, phase 2 plain text.
	require.Len(t, client.requests, 2)
	require.NotNil(t, client.requests[0].ResponseFormat)
	assert.Equal(t, model.FormatJSONSchema, client.requests[0].ResponseFormat.Type)
	assert.True(t, client.requests[0].ResponseFormat.Strict)
	assert.Nil(t, client.requests[1].ResponseFormat)
	assert.Contains(t, client.requests[1].Messages[0].Text(), "two sentences")
}

func TestGenericFlowUsesJSONObjectFormat(t *testing.T) {
	client := &fakeClient{streams: [][]model.Chunk{
		textChunks(`{"favorite_color":"red"}`),
		textChunks("Changed your favorite color to red."),
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "make it red", State: []byte(`{"favorite_color":"blue"}`)})
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 2)
	data := events[0].Contents[0].(update.DataContent)
	assert.JSONEq(t, `{"favorite_color":"red"}`, string(data.Bytes))
	require.NotNil(t, client.requests[0].ResponseFormat)
	assert.Equal(t, model.FormatJSONObject, client.requests[0].ResponseFormat.Type)
}

func TestDecodeFailureEmitsFallbackAndSkipsPhase2(t *testing.T) {
	client := &fakeClient{streams: [][]model.Chunk{
		textChunks("sorry, I can't help with that"),
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "update", State: []byte(`{}`)})
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 1)
	assert.Equal(t, fallbackText, events[0].Text())
	// Phase 2 never ran.
	assert.Len(t, client.requests, 1)
}

func TestSchemaMismatchEmitsFallback(t *testing.T) {
	// Valid JSON but missing the required ingredients property.
	client := &fakeClient{streams: [][]model.Chunk{
		textChunks(`{"title":"Salad"}`),
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "update", State: []byte(`{"title":"Salad","ingredients":[]}`)})
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 1)
	assert.Equal(t, fallbackText, events[0].Text())
	assert.Len(t, client.requests, 1)
}

func TestWrappedRecipeResponseUnwraps(t *testing.T) {
	client := &fakeClient{streams: [][]model.Chunk{
		textChunks(`{"recipe":{"title":"Soup","ingredients":["water"]}}`),
		textChunks("Done."),
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "make soup", State: []byte(`{"recipe":{}}`)})
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 2)
	data := events[0].Contents[0].(update.DataContent)
	assert.JSONEq(t, `{"title":"Soup","ingredients":["water"]}`, string(data.Bytes))
}

func TestToolCallsForwardedBeforeSnapshot(t *testing.T) {
	client := &fakeClient{streams: [][]model.Chunk{
		{
			{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: "c1", Name: "lookup"}},
			{Type: model.ChunkTypeText, Text: `{"favorite_color":"red"}`},
			{Type: model.ChunkTypeStop, StopReason: "stop_sequence"},
		},
		textChunks("Summary."),
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "update", State: []byte(`{}`)})
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 3)
	call := events[0].Contents[0].(update.ToolCallContent)
	assert.Equal(t, "lookup", call.Name)
	data := events[1].Contents[0].(update.DataContent)
	assert.Equal(t, update.MediaSnapshot, data.MediaKind)
	assert.Equal(t, "Summary.", events[2].Text())
}

func TestNonStreamingClientDegradesToComplete(t *testing.T) {
	client := &fakeClient{
		streamErr:    model.ErrStreamingUnsupported,
		completeResp: model.Response{Message: *model.NewTextMessage("assistant", `{"favorite_color":"red"}`)},
	}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "update", State: []byte(`{}`)})
	require.NoError(t, err)
	events := drain(t, s)

	// Phase 1 and phase 2 both degrade to Complete; phase 2's reply happens
	// to decode as text output.
	require.NotEmpty(t, events)
	data := events[0].Contents[0].(update.DataContent)
	assert.JSONEq(t, `{"favorite_color":"red"}`, string(data.Bytes))
	assert.Equal(t, 2, client.completeCalls)
}

func TestPhase2StartFailureSurfacesAfterSnapshot(t *testing.T) {
	client := &fakeClient{streams: [][]model.Chunk{
		textChunks(`{"favorite_color":"red"}`),
		// No second stream configured: phase 2 start fails.
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "update", State: []byte(`{}`)})
	require.NoError(t, err)

	ev, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, update.MediaSnapshot, ev.Contents[0].(update.DataContent).MediaKind)

	_, err = s.Recv()
	assert.ErrorContains(t, err, "phase 2")
}

func TestPhase1RequestCarriesState(t *testing.T) {
	client := &fakeClient{streams: [][]model.Chunk{
		textChunks(`{"a":1}`),
		textChunks("Summary."),
	}}
	o := newOrchestrator(t, client)

	s, err := o.Run(context.Background(), Input{Text: "bump a", State: []byte(`{"a":0}`)})
	require.NoError(t, err)
	drain(t, s)

	req := client.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Text(), `{"a":0}`)
	assert.Equal(t, "bump a", req.Messages[1].Text())
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Model: "m"})
	assert.ErrorContains(t, err, "client is required")

	_, err = New(Options{Client: &fakeClient{}})
	assert.ErrorContains(t, err, "model is required")
}
