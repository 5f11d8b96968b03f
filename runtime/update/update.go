// Package update defines the logical shape of an agent's ordered output
// stream: update events carrying tagged content items. It also provides the
// stream abstraction the rest of the runtime composes over: every pipeline
// stage (interception, classification, orchestration) is a transform from one
// update stream to another, chained explicitly rather than layered through
// delegating wrappers.
//
// The package does not define a wire encoding; the JSON codec in this package
// exists so events can cross process boundaries, but transports are out of
// scope.
package update

import (
	"strings"
	"time"
)

type (
	// Event is one element of the ordered agent output stream. Events are
	// immutable once emitted and live for a single run.
	Event struct {
		// Role identifies the producer of the event (system, assistant, tool).
		Role Role
		// Contents is the ordered list of content items carried by the event.
		Contents []ContentItem
		// ResponseID identifies the model response this event belongs to.
		ResponseID string
		// MessageID uniquely identifies this event.
		MessageID string
		// CreatedAt records when the event was produced.
		CreatedAt time.Time
		// ContinuationToken is an opaque token consumers echo back to resume
		// the conversation. The runtime never interprets it.
		ContinuationToken string
		// ConversationID is the optional conversation/session identifier.
		ConversationID string
	}

	// Role is the event producer role.
	Role string

	// ContentItem is a tagged content variant carried by an Event.
	// Implementations are TextContent, ToolCallContent, ToolResultContent and
	// DataContent.
	ContentItem interface {
		isContent()
	}

	// TextContent carries plain assistant or system text.
	TextContent struct {
		// Text is the visible text fragment.
		Text string
	}

	// ToolCallContent declares a tool invocation requested by the agent.
	ToolCallContent struct {
		// CallID correlates this call with its eventual ToolResultContent.
		CallID string
		// Name is the tool identifier.
		Name string
		// Args carries the JSON-encodable tool arguments.
		Args any
	}

	// ToolResultContent carries the outcome of a prior tool call, correlated
	// via CallID.
	ToolResultContent struct {
		// CallID matches the CallID of the originating ToolCallContent.
		CallID string
		// Result is the JSON-encodable tool result payload.
		Result any
	}

	// DataContent carries an opaque typed payload, either inline bytes or a
	// reference URI. The runtime only interprets the snapshot and delta media
	// kinds; everything else passes through unclassified.
	DataContent struct {
		// Bytes is the inline payload. Nil when URI is set.
		Bytes []byte
		// URI references an external payload. Empty when Bytes is set.
		URI string
		// MediaKind tags the payload format.
		MediaKind MediaKind
	}

	// MediaKind distinguishes the payload format of a DataContent item.
	MediaKind string
)

// Event producer roles.
const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Media kinds interpreted by the runtime. MediaSnapshot marks a complete
// JSON state document; MediaDelta marks an RFC 6902 JSON-Patch document.
const (
	MediaSnapshot MediaKind = "application/json"
	MediaDelta    MediaKind = "application/json-patch+json"
)

func (TextContent) isContent()       {}
func (ToolCallContent) isContent()   {}
func (ToolResultContent) isContent() {}
func (DataContent) isContent()       {}

// Text returns the event's aggregated plain text: the concatenation of all
// TextContent items in order. Empty when the event carries no text.
func (e *Event) Text() string {
	var b strings.Builder
	for _, c := range e.Contents {
		if t, ok := c.(TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
