// Package mongo hosts the MongoDB client used by the conversation store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/statesync/runtime/conversation"
)

const (
	defaultConversationsCollection = "conversations"
	defaultStatesCollection        = "conversation_states"
	defaultOpTimeout               = 5 * time.Second
	clientName                     = "conversation-mongo"
)

// Client exposes Mongo-backed operations for conversation metadata and state
// documents.
type Client interface {
	health.Pinger

	CreateConversation(ctx context.Context, id string, createdAt time.Time) (conversation.Conversation, error)
	LoadConversation(ctx context.Context, id string) (conversation.Conversation, error)
	EndConversation(ctx context.Context, id string, endedAt time.Time) (conversation.Conversation, error)

	SaveState(ctx context.Context, id string, doc []byte) (conversation.StateRecord, error)
	LoadState(ctx context.Context, id string) (conversation.StateRecord, error)
}

// Options configures the Mongo conversation client.
type Options struct {
	Client                  *mongodriver.Client
	Database                string
	ConversationsCollection string
	StatesCollection        string
	Timeout                 time.Duration
}

type client struct {
	mongo         *mongodriver.Client
	conversations collection
	states        collection
	timeout       time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	conversationsCollection := opts.ConversationsCollection
	if conversationsCollection == "" {
		conversationsCollection = defaultConversationsCollection
	}
	statesCollection := opts.StatesCollection
	if statesCollection == "" {
		statesCollection = defaultStatesCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	convColl := opts.Client.Database(opts.Database).Collection(conversationsCollection)
	stateColl := opts.Client.Database(opts.Database).Collection(statesCollection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	convWrapper := mongoCollection{coll: convColl}
	stateWrapper := mongoCollection{coll: stateColl}
	if err := ensureIndexes(ctx, convWrapper, stateWrapper); err != nil {
		return nil, err
	}
	return newClientWithCollections(opts.Client, convWrapper, stateWrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) CreateConversation(ctx context.Context, id string, createdAt time.Time) (conversation.Conversation, error) {
	if id == "" {
		return conversation.Conversation{}, errors.New("conversation id is required")
	}
	if createdAt.IsZero() {
		return conversation.Conversation{}, errors.New("created_at is required")
	}

	existing, err := c.LoadConversation(ctx, id)
	if err == nil {
		if existing.Status == conversation.StatusEnded {
			return conversation.Conversation{}, conversation.ErrEnded
		}
		return existing, nil
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		return conversation.Conversation{}, err
	}

	now := time.Now().UTC()
	createdAt = createdAt.UTC()
	ctxWithTimeout, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"conversation_id": id}
	// Pure $setOnInsert keeps Create idempotent under retries and races: an
	// existing conversation is never modified.
	update := bson.M{
		"$setOnInsert": bson.M{
			"conversation_id": id,
			"status":          conversation.StatusActive,
			"created_at":      createdAt,
			"updated_at":      now,
		},
	}
	if _, err := c.conversations.UpdateOne(ctxWithTimeout, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return conversation.Conversation{}, err
	}

	out, err := c.LoadConversation(ctx, id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if out.Status == conversation.StatusEnded {
		return conversation.Conversation{}, conversation.ErrEnded
	}
	return out, nil
}

func (c *client) LoadConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	if id == "" {
		return conversation.Conversation{}, errors.New("conversation id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"conversation_id": id}
	var doc conversationDocument
	if err := c.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return conversation.Conversation{}, conversation.ErrNotFound
		}
		return conversation.Conversation{}, err
	}
	return doc.toConversation(), nil
}

func (c *client) EndConversation(ctx context.Context, id string, endedAt time.Time) (conversation.Conversation, error) {
	if id == "" {
		return conversation.Conversation{}, errors.New("conversation id is required")
	}
	if endedAt.IsZero() {
		return conversation.Conversation{}, errors.New("ended_at is required")
	}

	existing, err := c.LoadConversation(ctx, id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if existing.Status == conversation.StatusEnded {
		return existing, nil
	}

	now := time.Now().UTC()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"conversation_id": id}
	update := bson.M{
		"$set": bson.M{
			"status":     conversation.StatusEnded,
			"ended_at":   endedAt.UTC(),
			"updated_at": now,
		},
	}
	if _, err := c.conversations.UpdateOne(ctx, filter, update); err != nil {
		return conversation.Conversation{}, err
	}
	return c.LoadConversation(ctx, id)
}

func (c *client) SaveState(ctx context.Context, id string, doc []byte) (conversation.StateRecord, error) {
	if id == "" {
		return conversation.StateRecord{}, errors.New("conversation id is required")
	}
	if len(doc) == 0 {
		return conversation.StateRecord{}, errors.New("state document is required")
	}
	now := time.Now().UTC()
	ctxWithTimeout, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"conversation_id": id}
	update := bson.M{
		"$set": bson.M{
			"conversation_id": id,
			"document":        string(doc),
			"updated_at":      now,
		},
		"$inc": bson.M{"revision": 1},
	}
	if _, err := c.states.UpdateOne(ctxWithTimeout, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return conversation.StateRecord{}, err
	}
	return c.LoadState(ctx, id)
}

func (c *client) LoadState(ctx context.Context, id string) (conversation.StateRecord, error) {
	if id == "" {
		return conversation.StateRecord{}, errors.New("conversation id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"conversation_id": id}
	var doc stateDocument
	if err := c.states.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return conversation.StateRecord{}, conversation.ErrNotFound
		}
		return conversation.StateRecord{}, err
	}
	return doc.toStateRecord(), nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type conversationDocument struct {
	ConversationID string              `bson:"conversation_id"`
	Status         conversation.Status `bson:"status"`
	CreatedAt      time.Time           `bson:"created_at"`
	EndedAt        *time.Time          `bson:"ended_at,omitempty"`
	UpdatedAt      time.Time           `bson:"updated_at"`
}

type stateDocument struct {
	ConversationID string    `bson:"conversation_id"`
	Document       string    `bson:"document"`
	Revision       int64     `bson:"revision"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (doc conversationDocument) toConversation() conversation.Conversation {
	var endedAt *time.Time
	if doc.EndedAt != nil {
		at := doc.EndedAt.UTC()
		endedAt = &at
	}
	return conversation.Conversation{
		ID:        doc.ConversationID,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt.UTC(),
		EndedAt:   endedAt,
	}
}

func (doc stateDocument) toStateRecord() conversation.StateRecord {
	return conversation.StateRecord{
		ConversationID: doc.ConversationID,
		Document:       []byte(doc.Document),
		Revision:       doc.Revision,
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
}

func ensureIndexes(ctx context.Context, conversationsColl, statesColl collection) error {
	conversationIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := conversationsColl.Indexes().CreateOne(ctx, conversationIndex); err != nil {
		return err
	}
	stateIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := statesColl.Indexes().CreateOne(ctx, stateIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollections(mongoClient *mongodriver.Client, conversationsColl, statesColl collection, timeout time.Duration) (*client, error) {
	if conversationsColl == nil || statesColl == nil {
		return nil, errors.New("collections are required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:         mongoClient,
		conversations: conversationsColl,
		states:        statesColl,
		timeout:       timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
