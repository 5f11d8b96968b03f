package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/statesync/runtime/conversation"
)

type fakeConversationClient struct {
	created string
	ended   string
	saved   json.RawMessage
	err     error
}

func (c *fakeConversationClient) Name() string             { return "mongo" }
func (c *fakeConversationClient) Ping(context.Context) error { return nil }

func (c *fakeConversationClient) CreateConversation(_ context.Context, id string, createdAt time.Time) (conversation.Conversation, error) {
	c.created = id
	return conversation.Conversation{ID: id, Status: conversation.StatusActive, CreatedAt: createdAt}, c.err
}

func (c *fakeConversationClient) LoadConversation(_ context.Context, id string) (conversation.Conversation, error) {
	return conversation.Conversation{ID: id, Status: conversation.StatusActive}, c.err
}

func (c *fakeConversationClient) EndConversation(_ context.Context, id string, endedAt time.Time) (conversation.Conversation, error) {
	c.ended = id
	at := endedAt
	return conversation.Conversation{ID: id, Status: conversation.StatusEnded, EndedAt: &at}, c.err
}

func (c *fakeConversationClient) SaveState(_ context.Context, id string, doc []byte) (conversation.StateRecord, error) {
	c.saved = doc
	return conversation.StateRecord{ConversationID: id, Document: doc, Revision: 1}, c.err
}

func (c *fakeConversationClient) LoadState(_ context.Context, id string) (conversation.StateRecord, error) {
	return conversation.StateRecord{ConversationID: id, Revision: 1}, c.err
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestStoreDelegates(t *testing.T) {
	fake := &fakeConversationClient{}
	store, err := NewStore(fake)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := store.Create(ctx, "conv-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, "conv-1", conv.ID)
	require.Equal(t, "conv-1", fake.created)

	_, err = store.Load(ctx, "conv-1")
	require.NoError(t, err)

	ended, err := store.End(ctx, "conv-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, conversation.StatusEnded, ended.Status)
	require.Equal(t, "conv-1", fake.ended)

	rec, err := store.SaveState(ctx, "conv-1", json.RawMessage(`{"title":"Stew"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Revision)
	require.JSONEq(t, `{"title":"Stew"}`, string(fake.saved))

	_, err = store.LoadState(ctx, "conv-1")
	require.NoError(t, err)
}

func TestStorePropagatesErrors(t *testing.T) {
	fake := &fakeConversationClient{err: errors.New("mongo down")}
	store, err := NewStore(fake)
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "conv-1")
	require.ErrorContains(t, err, "mongo down")
}
