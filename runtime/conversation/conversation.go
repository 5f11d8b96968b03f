// Package conversation defines persistence contracts for conversations and
// their synchronized state documents. Stores record conversation lifecycle
// metadata and the latest state document so clients can rehydrate after a
// disconnect instead of replaying the whole stream.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// Status is the lifecycle state of a conversation.
	Status string

	// Conversation is the stored lifecycle metadata of one conversation.
	Conversation struct {
		// ID is the conversation identifier.
		ID string
		// Status is the current lifecycle state.
		Status Status
		// CreatedAt records when the conversation was first seen (UTC).
		CreatedAt time.Time
		// EndedAt records when the conversation ended, nil while active.
		EndedAt *time.Time
	}

	// StateRecord is the latest synchronized state document of a
	// conversation.
	StateRecord struct {
		// ConversationID identifies the owning conversation.
		ConversationID string
		// Document is the canonical JSON state document.
		Document json.RawMessage
		// Revision increments on every save.
		Revision int64
		// UpdatedAt records the last save time (UTC).
		UpdatedAt time.Time
	}

	// Store persists conversations and their state documents.
	Store interface {
		// Create registers a conversation, idempotently. Returns ErrEnded
		// when the conversation already ended.
		Create(ctx context.Context, id string, createdAt time.Time) (Conversation, error)
		// Load retrieves conversation metadata.
		Load(ctx context.Context, id string) (Conversation, error)
		// End marks the conversation ended, idempotently.
		End(ctx context.Context, id string, endedAt time.Time) (Conversation, error)
		// SaveState stores the latest state document, bumping the revision.
		SaveState(ctx context.Context, id string, doc json.RawMessage) (StateRecord, error)
		// LoadState retrieves the latest state document.
		LoadState(ctx context.Context, id string) (StateRecord, error)
	}
)

// Conversation statuses.
const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// ErrNotFound indicates the conversation or state document does not exist.
var ErrNotFound = errors.New("conversation: not found")

// ErrEnded indicates the conversation has already ended.
var ErrEnded = errors.New("conversation: ended")
