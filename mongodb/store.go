// Package mongodb provides a persistence.Store backed by MongoDB. Every store
// operation maps directly onto the driver call of the same name; driver
// errors are returned unchanged.
package mongodb

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Store is a MongoDB-backed persistence.Store.
type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	logger       *zap.Logger
	transactions bool
}

var _ persistence.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTransactions runs batch inserts inside a session transaction, making
// them all-or-nothing. It requires a replica set or sharded cluster.
func WithTransactions(enabled bool) Option {
	return func(s *Store) {
		s.transactions = enabled
	}
}

// Connect dials uri, verifies the connection and returns a store over database.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return New(client, database, opts...), nil
}

// New returns a store over an existing client. Close disconnects the client.
func New(client *mongo.Client, database string, opts ...Option) *Store {
	s := &Store{
		client: client,
		db:     client.Database(database),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Collection(name string) persistence.StoreCollection {
	return &Collection{store: s, coll: s.db.Collection(name)}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Collection is a handle to one MongoDB collection.
type Collection struct {
	store *Store
	coll  *mongo.Collection
}

func selector(filter persistence.Document) any {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

func (c *Collection) Find(ctx context.Context, filter persistence.Document, opts persistence.FindOptions) (persistence.Cursor, error) {
	findOpts := options.Find()
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(opts.Projection)
	}
	if opts.Skip != nil {
		findOpts.SetSkip(*opts.Skip)
	}
	if opts.Limit != nil {
		findOpts.SetLimit(*opts.Limit)
	}

	cur, err := c.coll.Find(ctx, selector(filter), findOpts)
	if err != nil {
		return nil, err
	}
	return &cursor{cur: cur}, nil
}

func (c *Collection) FindOne(ctx context.Context, filter persistence.Document, projection persistence.Document) (persistence.Document, error) {
	findOpts := options.FindOne()
	if len(projection) > 0 {
		findOpts.SetProjection(projection)
	}

	var raw bson.M
	err := c.coll.FindOne(ctx, selector(filter), findOpts).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toDocument(raw), nil
}

func (c *Collection) InsertOne(ctx context.Context, doc persistence.Document) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c *Collection) InsertMany(ctx context.Context, docs []persistence.Document) ([]any, error) {
	items := make([]any, len(docs))
	for i, doc := range docs {
		items[i] = doc
	}

	if !c.store.transactions {
		res, err := c.coll.InsertMany(ctx, items)
		if err != nil {
			return nil, err
		}
		return res.InsertedIDs, nil
	}

	session, err := c.store.client.StartSession()
	if err != nil {
		return nil, err
	}
	defer session.EndSession(ctx)

	out, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return c.coll.InsertMany(sc, items)
	})
	if err != nil {
		return nil, err
	}
	ids := out.(*mongo.InsertManyResult).InsertedIDs
	c.store.logger.Debug("Inserted documents in transaction", zap.String("collection", c.coll.Name()), zap.Int("count", len(ids)))
	return ids, nil
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, selector(filter), update)
	if err != nil {
		return nil, err
	}
	return updateResult(res), nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	res, err := c.coll.UpdateMany(ctx, selector(filter), update)
	if err != nil {
		return nil, err
	}
	return updateResult(res), nil
}

func updateResult(res *mongo.UpdateResult) *persistence.UpdateResult {
	return &persistence.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
	}
}

func (c *Collection) DeleteOne(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	res, err := c.coll.DeleteOne(ctx, selector(filter))
	if err != nil {
		return nil, err
	}
	return &persistence.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	res, err := c.coll.DeleteMany(ctx, selector(filter))
	if err != nil {
		return nil, err
	}
	return &persistence.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

type cursor struct {
	cur     *mongo.Cursor
	current persistence.Document
	err     error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.cur.Next(ctx) {
		return false
	}
	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = err
		return false
	}
	c.current = toDocument(raw)
	return true
}

func (c *cursor) Document() persistence.Document {
	return c.current
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// toDocument converts decoded BSON into plain maps and slices so documents
// from every backend share one representation.
func toDocument(raw bson.M) persistence.Document {
	return toPlain(raw).(map[string]any)
}

func toPlain(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toPlain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toPlain(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = toPlain(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toPlain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toPlain(item)
		}
		return out
	default:
		return v
	}
}
