// Package mongostore wires ledger.Store to MongoDB, grounded on the
// teacher's features/runlog/mongo package: one append-only collection,
// documents ordered by their Mongo-assigned _id, cursor pagination by _id,
// plus an "emitted" flag so PendingEvents/MarkEventsEmitted can implement
// the transactional outbox pattern for the Streaming Event Bus.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/ledger"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

type (
	// Options configures the Mongo-backed ledger store.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	// Store implements ledger.Store against a MongoDB collection.
	Store struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	eventDocument struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		RunID     string        `bson:"run_id"`
		ParentID  string        `bson:"parent_id,omitempty"`
		AgentKey  string        `bson:"agent_key"`
		NodeKey   string        `bson:"node_key"`
		Type      string        `bson:"type"`
		Status    string        `bson:"status,omitempty"`
		Inputs    []byte        `bson:"inputs,omitempty"`
		Outputs   []byte        `bson:"outputs,omitempty"`
		ElapsedMs int64         `bson:"elapsed_ms,omitempty"`
		Error     string        `bson:"error,omitempty"`
		Usage     usageDocument `bson:"usage,omitempty"`
		Timestamp time.Time     `bson:"timestamp"`
		Emitted   bool          `bson:"emitted"`
	}

	usageDocument struct {
		InputTokens      int `bson:"input_tokens,omitempty"`
		OutputTokens     int `bson:"output_tokens,omitempty"`
		CacheReadTokens  int `bson:"cache_read_tokens,omitempty"`
		CacheWriteTokens int `bson:"cache_write_tokens,omitempty"`
		ThinkingTokens   int `bson:"thinking_tokens,omitempty"`
	}
)

const (
	defaultCollection = "agent_execution_ledger"
	defaultTimeout    = 5 * time.Second
)

// New returns a ledger.Store backed by the given Mongo client, creating the
// indexes List and PendingEvents depend on.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, coll: wrapper, timeout: timeout}, nil
}

// Name satisfies health.Pinger so this store can be wired into the same
// readiness checks as the teacher's Mongo clients.
func (s *Store) Name() string { return "ledger-mongo" }

// Ping satisfies health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, e *ledger.Event) error {
	if e == nil {
		return errors.New("mongostore: event is required")
	}
	if e.RunID == "" {
		return errors.New("mongostore: run id is required")
	}
	if e.Type == "" {
		return errors.New("mongostore: event type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("mongostore: timestamp is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := eventDocument{
		RunID:     e.RunID,
		ParentID:  e.ParentID,
		AgentKey:  e.AgentKey,
		NodeKey:   e.NodeKey,
		Type:      string(e.Type),
		Status:    string(e.Status),
		Inputs:    append([]byte(nil), e.Inputs...),
		Outputs:   append([]byte(nil), e.Outputs...),
		ElapsedMs: e.ElapsedMs,
		Error:     e.Error,
		Usage: usageDocument{
			InputTokens:      e.Usage.InputTokens,
			OutputTokens:     e.Usage.OutputTokens,
			CacheReadTokens:  e.Usage.CacheReadTokens,
			CacheWriteTokens: e.Usage.CacheWriteTokens,
			ThinkingTokens:   e.Usage.ThinkingTokens,
		},
		Timestamp: e.Timestamp.UTC(),
		Emitted:   false,
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("mongostore: unexpected inserted id type %T", res.InsertedID)
	}
	e.ID = oid.Hex()
	return nil
}

// List implements ledger.Store.
func (s *Store) List(ctx context.Context, runID, cursor string, limit int) (page ledger.Page, err error) {
	if runID == "" {
		return ledger.Page{}, errors.New("mongostore: run id is required")
	}
	if limit <= 0 {
		return ledger.Page{}, errors.New("mongostore: limit must be > 0")
	}

	filter := bson.M{"run_id": runID}
	if cursor != "" {
		oid, perr := bson.ObjectIDFromHex(cursor)
		if perr != nil {
			return ledger.Page{}, fmt.Errorf("mongostore: invalid cursor %q: %w", cursor, perr)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)),
	)
	if err != nil {
		return ledger.Page{}, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	events, err := decodeAll(ctx, cur)
	if err != nil {
		return ledger.Page{}, err
	}

	var next string
	if len(events) > limit {
		next = events[limit-1].ID
		events = events[:limit]
	}
	return ledger.Page{Events: events, NextCursor: next}, nil
}

// PendingEvents implements ledger.Store's transactional-outbox half.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]*ledger.Event, error) {
	if limit <= 0 {
		return nil, errors.New("mongostore: limit must be > 0")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.M{"emitted": false}, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	return decodeAll(ctx, cur)
}

// MarkEventsEmitted implements ledger.Store's transactional-outbox half.
func (s *Store) MarkEventsEmitted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	oids := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := bson.ObjectIDFromHex(id)
		if err != nil {
			return fmt.Errorf("mongostore: invalid event id %q: %w", id, err)
		}
		oids = append(oids, oid)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": oids}},
		bson.M{"$set": bson.M{"emitted": true}},
	)
}

func decodeAll(ctx context.Context, cur cursor) ([]*ledger.Event, error) {
	var events []*ledger.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		events = append(events, &ledger.Event{
			ID:        doc.ID.Hex(),
			RunID:     doc.RunID,
			ParentID:  doc.ParentID,
			AgentKey:  doc.AgentKey,
			NodeKey:   doc.NodeKey,
			Type:      ledger.EventType(doc.Type),
			Status:    graph.RunStatus(doc.Status),
			Inputs:    append([]byte(nil), doc.Inputs...),
			Outputs:   append([]byte(nil), doc.Outputs...),
			ElapsedMs: doc.ElapsedMs,
			Error:     doc.Error,
			Usage: model.TokenUsage{
				InputTokens:      doc.Usage.InputTokens,
				OutputTokens:     doc.Usage.OutputTokens,
				CacheReadTokens:  doc.Usage.CacheReadTokens,
				CacheWriteTokens: doc.Usage.CacheWriteTokens,
				ThinkingTokens:   doc.Usage.ThinkingTokens,
			},
			Timestamp: doc.Timestamp,
			Emitted:   doc.Emitted,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	byRun := mongodriver.IndexModel{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "_id", Value: 1}}}
	byEmitted := mongodriver.IndexModel{Keys: bson.D{{Key: "emitted", Value: 1}, {Key: "_id", Value: 1}}}
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{byRun, byEmitted})
	return err
}

// collection, indexView, and cursor narrow the mongo-driver surface this
// package needs down to what can be faked in unit tests, matching the
// teacher's pattern of not depending on *mongo.Collection directly.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateMany(ctx context.Context, filter, update any) error
	Indexes() indexView
}

type indexView interface {
	CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) UpdateMany(ctx context.Context, filter, update any) error {
	_, err := c.coll.UpdateMany(ctx, filter, update)
	return err
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error) {
	return v.view.CreateMany(ctx, models, opts...)
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }
func (c mongoCursor) Decode(val any) error            { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                       { return c.cur.Err() }
func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
