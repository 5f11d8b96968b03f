package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Content item discriminator values used by the JSON codec.
const (
	kindText       = "text"
	kindToolCall   = "tool_call"
	kindToolResult = "tool_result"
	kindData       = "data"
)

type (
	eventAlias struct {
		Role              Role              `json:"role,omitempty"`
		Contents          []json.RawMessage `json:"contents,omitempty"`
		ResponseID        string            `json:"response_id,omitempty"`
		MessageID         string            `json:"message_id,omitempty"`
		CreatedAt         time.Time         `json:"created_at,omitzero"`
		ContinuationToken string            `json:"continuation_token,omitempty"`
		ConversationID    string            `json:"conversation_id,omitempty"`
	}

	textWire struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}

	toolCallWire struct {
		Kind   string `json:"kind"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
		Args   any    `json:"args,omitempty"`
	}

	toolResultWire struct {
		Kind   string `json:"kind"`
		CallID string `json:"call_id"`
		Result any    `json:"result,omitempty"`
	}

	dataWire struct {
		Kind      string    `json:"kind"`
		Bytes     []byte    `json:"bytes,omitempty"`
		URI       string    `json:"uri,omitempty"`
		MediaKind MediaKind `json:"media_kind,omitempty"`
	}
)

// MarshalJSON encodes the event with a "kind" discriminator on each content
// item so heterogeneous content round-trips with type fidelity.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role              Role      `json:"role,omitempty"`
		Contents          []any     `json:"contents,omitempty"`
		ResponseID        string    `json:"response_id,omitempty"`
		MessageID         string    `json:"message_id,omitempty"`
		CreatedAt         time.Time `json:"created_at,omitzero"`
		ContinuationToken string    `json:"continuation_token,omitempty"`
		ConversationID    string    `json:"conversation_id,omitempty"`
	}
	out := alias{
		Role:              e.Role,
		ResponseID:        e.ResponseID,
		MessageID:         e.MessageID,
		CreatedAt:         e.CreatedAt,
		ContinuationToken: e.ContinuationToken,
		ConversationID:    e.ConversationID,
	}
	for _, c := range e.Contents {
		switch v := c.(type) {
		case TextContent:
			out.Contents = append(out.Contents, textWire{Kind: kindText, Text: v.Text})
		case ToolCallContent:
			out.Contents = append(out.Contents, toolCallWire{Kind: kindToolCall, CallID: v.CallID, Name: v.Name, Args: v.Args})
		case ToolResultContent:
			out.Contents = append(out.Contents, toolResultWire{Kind: kindToolResult, CallID: v.CallID, Result: v.Result})
		case DataContent:
			out.Contents = append(out.Contents, dataWire{Kind: kindData, Bytes: v.Bytes, URI: v.URI, MediaKind: v.MediaKind})
		default:
			return nil, fmt.Errorf("update: unsupported content type %T", c)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an event, materializing concrete ContentItem
// implementations from their "kind" discriminator.
func (e *Event) UnmarshalJSON(data []byte) error {
	var tmp eventAlias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	e.Role = tmp.Role
	e.ResponseID = tmp.ResponseID
	e.MessageID = tmp.MessageID
	e.CreatedAt = tmp.CreatedAt
	e.ContinuationToken = tmp.ContinuationToken
	e.ConversationID = tmp.ConversationID
	e.Contents = nil
	if len(tmp.Contents) == 0 {
		return nil
	}
	e.Contents = make([]ContentItem, 0, len(tmp.Contents))
	for i, raw := range tmp.Contents {
		item, err := decodeContent(raw)
		if err != nil {
			return fmt.Errorf("update: decode contents[%d]: %w", i, err)
		}
		e.Contents = append(e.Contents, item)
	}
	return nil
}

func decodeContent(raw json.RawMessage) (ContentItem, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode content object: %w", err)
	}
	switch probe.Kind {
	case kindText:
		var w textWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode TextContent: %w", err)
		}
		return TextContent{Text: w.Text}, nil
	case kindToolCall:
		var w toolCallWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode ToolCallContent: %w", err)
		}
		if w.Name == "" {
			return nil, errors.New("ToolCallContent requires name")
		}
		return ToolCallContent{CallID: w.CallID, Name: w.Name, Args: w.Args}, nil
	case kindToolResult:
		var w toolResultWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode ToolResultContent: %w", err)
		}
		if w.CallID == "" {
			return nil, errors.New("ToolResultContent requires call_id")
		}
		return ToolResultContent{CallID: w.CallID, Result: w.Result}, nil
	case kindData:
		var w dataWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode DataContent: %w", err)
		}
		return DataContent{Bytes: w.Bytes, URI: w.URI, MediaKind: w.MediaKind}, nil
	case "":
		return nil, errors.New("content missing kind")
	default:
		return nil, fmt.Errorf("unknown content kind %q", probe.Kind)
	}
}
