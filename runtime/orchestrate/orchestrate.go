package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"goa.design/statesync/runtime/model"
	"goa.design/statesync/runtime/telemetry"
	"goa.design/statesync/runtime/update"
)

type (
	// Options configures an Orchestrator.
	Options struct {
		// Client invokes the model provider. Required.
		Client model.Client
		// Model is the provider model identifier. Required.
		Model string
		// MaxTokens caps completion length. Zero means provider default.
		MaxTokens int
		// Temperature is the sampling temperature for both phases.
		Temperature float32
		// Logger receives diagnostic records. Defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics receives run counters. Defaults to a no-op recorder.
		Metrics telemetry.Metrics
		// NewID mints event identifiers. Defaults to uuid.NewString.
		NewID func() string
	}

	// Orchestrator runs the two-phase shared-state flow. It holds no mutable
	// state of its own; every Run owns its phase state exclusively, so one
	// orchestrator serves concurrent runs.
	Orchestrator struct {
		opts Options
	}

	// Input is the conversation input for one orchestrated run.
	Input struct {
		// ConversationID carries the session identifier, when known.
		ConversationID string
		// Text is the user's request.
		Text string
		// State is the caller-supplied current state document.
		State json.RawMessage
	}

	// run is the pull-based event stream of one orchestration. Phase 1
	// buffers the model's text while forwarding everything else; at end of
	// phase 1 the buffered text either decodes into a snapshot event and
	// phase 2 starts, or a single fallback text event ends the run.
	run struct {
		o          *Orchestrator
		ctx        context.Context
		input      Input
		shape      Shape
		cur        model.Streamer
		phase      int
		buf        strings.Builder
		pending    []*update.Event
		deferred   error
		responseID string
		started    time.Time
		done       bool
	}

	// chunkReplay adapts a non-streaming completion into the Streamer
	// contract so providers without streaming still work.
	chunkReplay struct {
		chunks []model.Chunk
		pos    int
	}
)

// fallbackText is the single user-visible message emitted when the phase 1
// response cannot be decoded into a valid state document.
const fallbackText = "I wasn't able to turn that response into a state update. Please try rephrasing your request."

// New validates the options and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("orchestrate: client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("orchestrate: model is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Orchestrator{opts: opts}, nil
}

// Run classifies the supplied state, starts the phase 1 completion with a
// shape-appropriate response format and returns the event stream of the run.
func (o *Orchestrator) Run(ctx context.Context, input Input) (update.Stream, error) {
	shape := Classify(input.State)
	o.opts.Logger.Debug(ctx, "starting orchestration", "shape", string(shape), "conversation_id", input.ConversationID)

	streamer, err := o.stream(ctx, o.phase1Request(input, shape))
	if err != nil {
		return nil, fmt.Errorf("orchestrate: phase 1: %w", err)
	}
	return &run{
		o:          o,
		ctx:        ctx,
		input:      input,
		shape:      shape,
		cur:        streamer,
		phase:      1,
		responseID: o.opts.NewID(),
		started:    time.Now(),
	}, nil
}

// stream starts a streaming completion, degrading to a buffered Complete
// call replayed as chunks when the provider does not stream.
func (o *Orchestrator) stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	streamer, err := o.opts.Client.Stream(ctx, req)
	if err == nil {
		return streamer, nil
	}
	if !errors.Is(err, model.ErrStreamingUnsupported) {
		return nil, err
	}
	resp, err := o.opts.Client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	var chunks []model.Chunk
	if text := resp.Message.Text(); text != "" {
		chunks = append(chunks, model.Chunk{Type: model.ChunkTypeText, Text: text})
	}
	for i := range resp.ToolCalls {
		chunks = append(chunks, model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &resp.ToolCalls[i]})
	}
	if resp.StopReason != "" {
		chunks = append(chunks, model.Chunk{Type: model.ChunkTypeStop, StopReason: resp.StopReason})
	}
	return &chunkReplay{chunks: chunks}, nil
}

func (o *Orchestrator) phase1Request(input Input, shape Shape) model.Request {
	var format *model.ResponseFormat
	switch shape {
	case ShapeRecipe:
		format = &model.ResponseFormat{
			Type:   model.FormatJSONSchema,
			Name:   "recipe",
			Schema: recipeSchemaMap(),
			Strict: true,
		}
	default:
		format = &model.ResponseFormat{Type: model.FormatJSONObject}
	}
	system := "You maintain a shared JSON state document for the user. " +
		"Apply the user's request to the current state and respond with the complete updated state as a single JSON document, nothing else.\n\n" +
		"Current state:\n" + string(input.State)
	return model.Request{
		Model:          o.opts.Model,
		MaxTokens:      o.opts.MaxTokens,
		Temperature:    o.opts.Temperature,
		ResponseFormat: format,
		Messages: []*model.Message{
			model.NewTextMessage("system", system),
			model.NewTextMessage("user", input.Text),
		},
	}
}

func (o *Orchestrator) phase2Request(input Input, doc []byte) model.Request {
	return model.Request{
		Model:       o.opts.Model,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
		Messages: []*model.Message{
			model.NewTextMessage("system", "Summarize the state change you just made for the user in at most two sentences."),
			model.NewTextMessage("user", input.Text),
			model.NewTextMessage("assistant", string(doc)),
		},
	}
}

// Recv returns the next event of the run.
func (r *run) Recv() (*update.Event, error) {
	for {
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return ev, nil
		}
		if r.deferred != nil {
			err := r.deferred
			r.deferred = nil
			r.done = true
			return nil, err
		}
		if r.done {
			return nil, io.EOF
		}
		chunk, err := r.cur.Recv()
		if errors.Is(err, io.EOF) {
			if r.phase == 1 {
				r.finishPhase1()
				continue
			}
			r.done = true
			continue
		}
		if err != nil {
			r.done = true
			return nil, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			if r.phase == 1 {
				// Buffered for end-of-phase decoding.
				r.buf.WriteString(chunk.Text)
				continue
			}
			return r.event(update.TextContent{Text: chunk.Text}), nil
		case model.ChunkTypeToolCall:
			if chunk.ToolCall == nil {
				continue
			}
			tc := chunk.ToolCall
			return r.event(update.ToolCallContent{CallID: tc.ID, Name: tc.Name, Args: tc.Args}), nil
		default:
			// Usage and stop chunks carry no content.
			continue
		}
	}
}

// Close terminates the run.
func (r *run) Close() error {
	r.done = true
	r.pending = nil
	if r.cur == nil {
		return nil
	}
	return r.cur.Close()
}

// finishPhase1 decodes the buffered text. On success it queues the snapshot
// event and starts phase 2; on failure it queues the fallback text event and
// ends the run.
func (r *run) finishPhase1() {
	_ = r.cur.Close()
	r.o.opts.Metrics.RecordTimer("orchestrate.phase1", time.Since(r.started), "shape", string(r.shape))

	doc, err := r.decode()
	if err != nil {
		r.o.opts.Logger.Debug(r.ctx, "phase 1 decode failed", "shape", string(r.shape), "err", err)
		r.o.opts.Metrics.IncCounter("orchestrate.fallbacks", 1, "shape", string(r.shape))
		r.pending = append(r.pending, r.event(update.TextContent{Text: fallbackText}))
		r.done = true
		return
	}
	r.o.opts.Metrics.IncCounter("orchestrate.snapshots", 1, "shape", string(r.shape))
	r.pending = append(r.pending, r.event(update.DataContent{Bytes: doc, MediaKind: update.MediaSnapshot}))

	streamer, err := r.o.stream(r.ctx, r.o.phase2Request(r.input, doc))
	if err != nil {
		// Deliver the snapshot before surfacing the phase 2 failure.
		r.deferred = fmt.Errorf("orchestrate: phase 2: %w", err)
		return
	}
	r.cur = streamer
	r.phase = 2
}

// decode strictly decodes the aggregated phase 1 text against the expected
// shape and returns the canonical re-serialized document.
func (r *run) decode() ([]byte, error) {
	text := strings.TrimSpace(r.buf.String())
	if text == "" {
		return nil, errors.New("empty response")
	}
	var v any
	if r.shape == ShapeRecipe {
		decoded, err := validateRecipe([]byte(text))
		if err != nil {
			return nil, err
		}
		v = decoded
	} else {
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if _, ok := v.(map[string]any); !ok {
			return nil, errors.New("response is not a JSON object")
		}
	}
	return json.Marshal(v)
}

func (r *run) event(contents ...update.ContentItem) *update.Event {
	return &update.Event{
		Role:           update.RoleAssistant,
		Contents:       contents,
		ResponseID:     r.responseID,
		MessageID:      r.o.opts.NewID(),
		CreatedAt:      time.Now(),
		ConversationID: r.input.ConversationID,
	}
}

// Recv implements model.Streamer.
func (s *chunkReplay) Recv() (model.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// Close implements model.Streamer.
func (s *chunkReplay) Close() error {
	s.pos = len(s.chunks)
	return nil
}

// Metadata implements model.Streamer.
func (s *chunkReplay) Metadata() map[string]any {
	return map[string]any{"streaming": false}
}
