// Package mongo implements conversation.Store on MongoDB.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	clientsmongo "goa.design/statesync/features/conversation/mongo/clients/mongo"
	"goa.design/statesync/runtime/conversation"
)

// Store implements conversation.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Create registers the conversation.
func (s *Store) Create(ctx context.Context, id string, createdAt time.Time) (conversation.Conversation, error) {
	return s.client.CreateConversation(ctx, id, createdAt)
}

// Load retrieves conversation metadata.
func (s *Store) Load(ctx context.Context, id string) (conversation.Conversation, error) {
	return s.client.LoadConversation(ctx, id)
}

// End marks the conversation ended.
func (s *Store) End(ctx context.Context, id string, endedAt time.Time) (conversation.Conversation, error) {
	return s.client.EndConversation(ctx, id, endedAt)
}

// SaveState stores the latest state document.
func (s *Store) SaveState(ctx context.Context, id string, doc json.RawMessage) (conversation.StateRecord, error) {
	return s.client.SaveState(ctx, id, doc)
}

// LoadState retrieves the latest state document.
func (s *Store) LoadState(ctx context.Context, id string) (conversation.StateRecord, error) {
	return s.client.LoadState(ctx, id)
}
