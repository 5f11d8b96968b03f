// Package inmem provides an in-memory conversation.Store for tests and local
// tooling.
package inmem

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"goa.design/statesync/runtime/conversation"
)

// Store implements conversation.Store in memory.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]conversation.Conversation
	states        map[string]conversation.StateRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		conversations: make(map[string]conversation.Conversation),
		states:        make(map[string]conversation.StateRecord),
	}
}

// Create registers a conversation, idempotently.
func (s *Store) Create(_ context.Context, id string, createdAt time.Time) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conversations[id]; ok {
		if existing.Status == conversation.StatusEnded {
			return conversation.Conversation{}, conversation.ErrEnded
		}
		return existing, nil
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	conv := conversation.Conversation{
		ID:        id,
		Status:    conversation.StatusActive,
		CreatedAt: createdAt.UTC(),
	}
	s.conversations[id] = conv
	return conv, nil
}

// Load returns the stored conversation metadata.
func (s *Store) Load(_ context.Context, id string) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return conv, nil
}

// End marks the conversation ended, idempotently.
func (s *Store) End(_ context.Context, id string, endedAt time.Time) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	if conv.Status == conversation.StatusEnded {
		return conv, nil
	}
	at := endedAt.UTC()
	conv.Status = conversation.StatusEnded
	conv.EndedAt = &at
	s.conversations[id] = conv
	return conv, nil
}

// SaveState stores the latest state document and bumps the revision.
func (s *Store) SaveState(_ context.Context, id string, doc json.RawMessage) (conversation.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.states[id]
	rec.ConversationID = id
	rec.Document = bytes.Clone(doc)
	rec.Revision++
	rec.UpdatedAt = time.Now().UTC()
	s.states[id] = rec
	return rec, nil
}

// LoadState returns the latest state document.
func (s *Store) LoadState(_ context.Context, id string) (conversation.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.states[id]
	if !ok {
		return conversation.StateRecord{}, conversation.ErrNotFound
	}
	rec.Document = bytes.Clone(rec.Document)
	return rec, nil
}

// Reset clears all stored data (useful in tests).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]conversation.Conversation)
	s.states = make(map[string]conversation.StateRecord)
}
