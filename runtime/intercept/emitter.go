package intercept

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"goa.design/statesync/runtime/telemetry"
	"goa.design/statesync/runtime/update"
)

type (
	// Options configures an Emitter.
	Options struct {
		// Rules maps state-producing tool names to their emission kind.
		Rules Rules
		// NewID mints identifiers for synthetic events. Defaults to
		// uuid.NewString.
		NewID func() string
		// Logger receives diagnostic records. Defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics receives emission counters. Defaults to a no-op recorder.
		Metrics telemetry.Metrics
	}

	// Emitter is a stream transform that forwards every upstream event
	// unchanged and, for each tracked tool result, inserts one synthetic
	// state event directly after the event that carried the result.
	//
	// The emitter owns its correlation map exclusively for one run; it is
	// not safe for concurrent use.
	Emitter struct {
		src     update.Stream
		opts    Options
		tracked map[string]update.ToolCallContent
		pending []*update.Event
	}

	// agent wraps an inner agent so every run it starts flows through a
	// fresh Emitter.
	agent struct {
		inner update.Agent
		opts  Options
	}
)

// New wraps the given update stream. The zero Options value yields an
// emitter that forwards everything and synthesizes nothing.
func New(src update.Stream, opts Options) *Emitter {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Emitter{
		src:     src,
		opts:    opts,
		tracked: make(map[string]update.ToolCallContent),
	}
}

// Stage returns the emitter as a composable pipeline transform.
func Stage(opts Options) update.Transform {
	return func(src update.Stream) update.Stream {
		return New(src, opts)
	}
}

// Wrap returns an agent whose runs are filtered through the interception
// stage. Each run gets its own correlation state.
func Wrap(inner update.Agent, opts Options) update.Agent {
	return &agent{inner: inner, opts: opts}
}

// Run implements update.Agent.
func (a *agent) Run(ctx context.Context, input update.Input) (update.Stream, error) {
	src, err := a.inner.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	return New(src, a.opts), nil
}

// Recv returns the next event: pass-through events come straight from the
// upstream, synthetic events drain from the queue filled while processing
// the previous pass-through.
func (e *Emitter) Recv() (*update.Event, error) {
	if len(e.pending) > 0 {
		ev := e.pending[0]
		e.pending = e.pending[1:]
		return ev, nil
	}
	ev, err := e.src.Recv()
	if err != nil {
		return nil, err
	}
	e.process(ev)
	return ev, nil
}

// Close discards correlation state and closes the upstream. Tracked calls
// that never received a result are dropped here.
func (e *Emitter) Close() error {
	e.tracked = make(map[string]update.ToolCallContent)
	e.pending = nil
	return e.src.Close()
}

// process scans one event's contents, tracking at most one registered tool
// call and queueing a synthetic event for each result that resolves a
// tracked call.
func (e *Emitter) process(ev *update.Event) {
	trackedThisEvent := false
	for _, c := range ev.Contents {
		switch v := c.(type) {
		case update.ToolCallContent:
			if trackedThisEvent {
				continue
			}
			if _, ok := e.opts.Rules[v.Name]; !ok {
				continue
			}
			e.tracked[v.CallID] = v
			trackedThisEvent = true
		case update.ToolResultContent:
			call, ok := e.tracked[v.CallID]
			if !ok {
				// Unrelated tool activity, nothing to synthesize.
				continue
			}
			delete(e.tracked, v.CallID)
			payload, err := canonicalize(v.Result)
			if err != nil {
				e.opts.Logger.Debug(context.Background(), "skipping synthetic emission",
					"tool", call.Name, "call_id", v.CallID, "err", err)
				e.opts.Metrics.IncCounter("intercept.results_skipped", 1, "tool", call.Name)
				continue
			}
			kind := e.opts.Rules[call.Name]
			e.pending = append(e.pending, e.synthesize(ev, kind, payload))
			e.opts.Metrics.IncCounter("intercept.synthetic_events", 1, "kind", string(kind))
		}
	}
}

// synthesize builds the state event inserted after src. It copies the
// triggering event's envelope but carries a fresh message ID so consumers
// never confuse it with the pass-through original.
func (e *Emitter) synthesize(src *update.Event, kind Kind, payload []byte) *update.Event {
	return &update.Event{
		Role: src.Role,
		Contents: []update.ContentItem{
			update.DataContent{Bytes: payload, MediaKind: kind.MediaKind()},
		},
		ResponseID:        src.ResponseID,
		MessageID:         e.opts.NewID(),
		CreatedAt:         src.CreatedAt,
		ContinuationToken: src.ContinuationToken,
		ConversationID:    src.ConversationID,
	}
}

// canonicalize converts a tool result into a JSON byte payload. Structured
// JSON passes through as-is, strings must themselves be JSON text, and
// anything else goes through the default codec.
func canonicalize(result any) ([]byte, error) {
	switch v := result.(type) {
	case json.RawMessage:
		return validJSON([]byte(v))
	case []byte:
		return validJSON(v)
	case string:
		return validJSON([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, errInvalidJSON
	}
	return data, nil
}

var errInvalidJSON = errors.New("intercept: result is not valid JSON")
