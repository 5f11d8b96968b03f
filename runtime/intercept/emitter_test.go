package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/statesync/runtime/update"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("synthetic-%d", n)
	}
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

func TestSyntheticFollowsResultEvent(t *testing.T) {
	e1 := &update.Event{
		Role:      update.RoleAssistant,
		MessageID: "m1",
		Contents: []update.ContentItem{
			update.ToolCallContent{CallID: "c1", Name: "create_plan", Args: map[string]any{"goal": "salad"}},
		},
	}
	e2 := &update.Event{
		Role:              update.RoleTool,
		MessageID:         "m2",
		ResponseID:        "r1",
		CreatedAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ContinuationToken: "tok",
		ConversationID:    "conv",
		Contents: []update.ContentItem{
			update.ToolResultContent{CallID: "c1", Result: map[string]any{"steps": []any{}}},
		},
	}
	s := New(update.Replay(e1, e2), Options{
		Rules: Rules{"create_plan": KindSnapshot},
		NewID: sequentialIDs(),
	})
	events := drain(t, s)

	require.Len(t, events, 3)
	assert.Same(t, e1, events[0])
	assert.Same(t, e2, events[1])

	syn := events[2]
	assert.Equal(t, "synthetic-1", syn.MessageID)
	assert.Equal(t, e2.Role, syn.Role)
	assert.Equal(t, e2.ResponseID, syn.ResponseID)
	assert.Equal(t, e2.CreatedAt, syn.CreatedAt)
	assert.Equal(t, e2.ContinuationToken, syn.ContinuationToken)
	assert.Equal(t, e2.ConversationID, syn.ConversationID)
	require.Len(t, syn.Contents, 1)
	data := syn.Contents[0].(update.DataContent)
	assert.Equal(t, update.MediaSnapshot, data.MediaKind)
	assert.JSONEq(t, `{"steps":[]}`, string(data.Bytes))
}

func TestDeltaRuleTagsPatchMedia(t *testing.T) {
	patch := `[{"op":"replace","path":"/steps/0/status","value":"completed"}]`
	s := New(update.Replay(
		&update.Event{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "update_plan"}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: patch}}},
	), Options{Rules: Rules{"update_plan": KindDelta}, NewID: sequentialIDs()})
	events := drain(t, s)

	require.Len(t, events, 3)
	data := events[2].Contents[0].(update.DataContent)
	assert.Equal(t, update.MediaDelta, data.MediaKind)
	assert.JSONEq(t, patch, string(data.Bytes))
}

func TestUnmatchedResultIgnored(t *testing.T) {
	s := New(update.Replay(
		&update.Event{Contents: []update.ContentItem{
			update.ToolResultContent{CallID: "never-seen", Result: map[string]any{"x": 1}},
		}},
	), Options{Rules: Rules{"create_plan": KindSnapshot}})
	events := drain(t, s)
	require.Len(t, events, 1)
}

func TestUnregisteredToolNotTracked(t *testing.T) {
	s := New(update.Replay(
		&update.Event{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "web_search"}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: map[string]any{"hits": 3}}}},
	), Options{Rules: Rules{"create_plan": KindSnapshot}})
	events := drain(t, s)
	require.Len(t, events, 2)
}

func TestAtMostOneTrackedCallPerEvent(t *testing.T) {
	// Both calls carry registered names; only the first is tracked.
	s := New(update.Replay(
		&update.Event{Contents: []update.ContentItem{
			update.ToolCallContent{CallID: "c1", Name: "create_plan"},
			update.ToolCallContent{CallID: "c2", Name: "update_plan"},
		}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c2", Result: map[string]any{}}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: map[string]any{}}}},
	), Options{
		Rules: Rules{"create_plan": KindSnapshot, "update_plan": KindDelta},
		NewID: sequentialIDs(),
	})
	events := drain(t, s)

	// The c2 result finds no tracked entry; only the c1 result synthesizes.
	require.Len(t, events, 4)
	data := events[3].Contents[0].(update.DataContent)
	assert.Equal(t, update.MediaSnapshot, data.MediaKind)
}

func TestResultConsumesTrackedCall(t *testing.T) {
	s := New(update.Replay(
		&update.Event{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "create_plan"}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: map[string]any{"v": 1}}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: map[string]any{"v": 2}}}},
	), Options{Rules: Rules{"create_plan": KindSnapshot}, NewID: sequentialIDs()})
	events := drain(t, s)

	// Second result for the same call ID finds the entry already consumed.
	require.Len(t, events, 4)
	assert.JSONEq(t, `{"v":1}`, string(events[2].Contents[0].(update.DataContent).Bytes))
}

func TestUnparseableResultSkipsSynthetic(t *testing.T) {
	s := New(update.Replay(
		&update.Event{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "create_plan"}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: "not json at all"}}},
	), Options{Rules: Rules{"create_plan": KindSnapshot}})
	events := drain(t, s)
	require.Len(t, events, 2)
}

func TestUnserializableResultSkipsSynthetic(t *testing.T) {
	s := New(update.Replay(
		&update.Event{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "create_plan"}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: func() {}}}},
	), Options{Rules: Rules{"create_plan": KindSnapshot}})
	events := drain(t, s)
	require.Len(t, events, 2)
}

func TestCallAndResultInSameEvent(t *testing.T) {
	s := New(update.Replay(
		&update.Event{MessageID: "m1", Contents: []update.ContentItem{
			update.ToolCallContent{CallID: "c1", Name: "create_plan"},
			update.ToolResultContent{CallID: "c1", Result: json.RawMessage(`{"steps":[]}`)},
		}},
	), Options{Rules: Rules{"create_plan": KindSnapshot}, NewID: sequentialIDs()})
	events := drain(t, s)

	require.Len(t, events, 2)
	assert.Equal(t, "m1", events[0].MessageID)
	assert.Equal(t, "synthetic-1", events[1].MessageID)
}

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{name: "raw message", in: json.RawMessage(`{"a":1}`), want: `{"a":1}`},
		{name: "bytes", in: []byte(`[1,2]`), want: `[1,2]`},
		{name: "json string", in: `{"b":true}`, want: `{"b":true}`},
		{name: "object", in: map[string]any{"c": 3}, want: `{"c":3}`},
		{name: "non-json string", in: "hello", wantErr: true},
		{name: "invalid bytes", in: []byte("{"), wantErr: true},
		{name: "unserializable", in: make(chan int), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := canonicalize(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestCloseDropsTrackedCalls(t *testing.T) {
	src := update.Replay(
		&update.Event{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "create_plan"}}},
	)
	s := New(src, Options{Rules: Rules{"create_plan": KindSnapshot}})
	_, err := s.Recv()
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

type replayAgent struct{ events []*update.Event }

func (a replayAgent) Run(context.Context, update.Input) (update.Stream, error) {
	return update.Replay(a.events...), nil
}

func TestWrapFiltersAgentRuns(t *testing.T) {
	inner := replayAgent{events: []*update.Event{
		{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "create_plan"}}},
		{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: map[string]any{"done": true}}}},
	}}
	agent := Wrap(inner, Options{Rules: Rules{"create_plan": KindSnapshot}, NewID: sequentialIDs()})

	s, err := agent.Run(context.Background(), update.Input{Text: "plan a salad"})
	require.NoError(t, err)
	events := drain(t, s)
	require.Len(t, events, 3)

	// A second run starts with fresh correlation state.
	s, err = agent.Run(context.Background(), update.Input{Text: "again"})
	require.NoError(t, err)
	events = drain(t, s)
	require.Len(t, events, 3)
}

func TestStageComposesWithChain(t *testing.T) {
	src := update.Replay(
		&update.Event{Contents: []update.ContentItem{update.ToolCallContent{CallID: "c1", Name: "create_plan"}}},
		&update.Event{Contents: []update.ContentItem{update.ToolResultContent{CallID: "c1", Result: map[string]any{}}}},
	)
	out := update.Chain(src, Stage(Options{Rules: Rules{"create_plan": KindSnapshot}}))
	events := drain(t, out)
	require.Len(t, events, 3)
}

func TestRulesFromYAML(t *testing.T) {
	rules, err := RulesFromYAML([]byte("create_plan: snapshot\nupdate_plan: delta\n"))
	require.NoError(t, err)
	assert.Equal(t, Rules{"create_plan": KindSnapshot, "update_plan": KindDelta}, rules)
}

func TestRulesFromYAMLRejectsUnknownKind(t *testing.T) {
	_, err := RulesFromYAML([]byte("create_plan: full\n"))
	assert.ErrorContains(t, err, "unknown emission kind")
}

func TestRulesFromYAMLRejectsMalformed(t *testing.T) {
	_, err := RulesFromYAML([]byte("- not\n- a map\n"))
	assert.Error(t, err)
}
