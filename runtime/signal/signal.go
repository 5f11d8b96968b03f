// Package signal defines the typed protocol signals derived from a raw agent
// update stream, and the classifier that produces them. Consumers subscribe
// to the signal kinds they care about (snapshots, deltas, text) while the raw
// event remains visible for everything the classifier does not interpret.
package signal

import (
	"encoding/json"

	"goa.design/statesync/runtime/update"
)

type (
	// Type identifies the kind of a classified signal.
	Type string

	// Signal is one element of the classified signal sequence derived from a
	// raw update stream. Implementations are Raw, ConversationID, Text,
	// ToolCall, ToolResult, Snapshot and Delta.
	Signal interface {
		// SignalType returns the signal kind.
		SignalType() Type
	}

	// Raw wraps the original update event. It is always emitted before any
	// signal derived from that event, so consumers that need full fidelity
	// can ignore the derived kinds entirely.
	Raw struct {
		// Event is the unmodified upstream event.
		Event *update.Event
	}

	// ConversationID reports the conversation/session identifier carried by
	// an event.
	ConversationID struct {
		// ID is the non-empty conversation identifier.
		ID string `json:"id"`
	}

	// Text carries an event's aggregated plain text.
	Text struct {
		// Text is the concatenated text of the event.
		Text string `json:"text"`
	}

	// ToolCall reports a tool invocation observed in the stream.
	ToolCall struct {
		// CallID correlates the call with its eventual result.
		CallID string `json:"call_id"`
		// Name is the tool identifier.
		Name string `json:"name"`
		// Args carries the tool arguments.
		Args any `json:"args,omitempty"`
	}

	// ToolResult reports a tool outcome observed in the stream.
	ToolResult struct {
		// CallID matches the originating ToolCall.
		CallID string `json:"call_id"`
		// Result is the tool result payload.
		Result any `json:"result,omitempty"`
	}

	// Snapshot carries a complete JSON state document. Consumers replace
	// their prior state copy wholesale.
	Snapshot struct {
		// Document is the snapshot JSON.
		Document json.RawMessage `json:"document"`
	}

	// Delta carries an RFC 6902 JSON-Patch document to apply to existing
	// state.
	Delta struct {
		// Document is the patch JSON array.
		Document json.RawMessage `json:"document"`
	}
)

// Signal kinds.
const (
	TypeRaw            Type = "raw"
	TypeConversationID Type = "conversation_id"
	TypeText           Type = "text"
	TypeToolCall       Type = "tool_call"
	TypeToolResult     Type = "tool_result"
	TypeSnapshot       Type = "snapshot"
	TypeDelta          Type = "delta"
)

// SignalType implements Signal.
func (Raw) SignalType() Type { return TypeRaw }

// SignalType implements Signal.
func (ConversationID) SignalType() Type { return TypeConversationID }

// SignalType implements Signal.
func (Text) SignalType() Type { return TypeText }

// SignalType implements Signal.
func (ToolCall) SignalType() Type { return TypeToolCall }

// SignalType implements Signal.
func (ToolResult) SignalType() Type { return TypeToolResult }

// SignalType implements Signal.
func (Snapshot) SignalType() Type { return TypeSnapshot }

// SignalType implements Signal.
func (Delta) SignalType() Type { return TypeDelta }
