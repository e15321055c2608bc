// Package memory provides an in-process document store. It keeps every
// collection as an ordered slice and evaluates selectors with the query
// package's DataProcessor. It backs tests and single-node development setups.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/asaidimu/go-anansi-rest/utils"
	"go.uber.org/zap"
)

type collectionData struct {
	docs []persistence.Document
	ids  map[string]struct{}
}

// Store is an in-memory persistence.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collectionData
	processor   *query.DataProcessor
	logger      *zap.Logger
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

// WithProcessor sets the processor used to evaluate selectors, e.g. one with
// custom operators registered.
func WithProcessor(p *query.DataProcessor) Option {
	return func(s *Store) {
		if p != nil {
			s.processor = p
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]*collectionData),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.processor == nil {
		s.processor = query.NewDataProcessor(s.logger)
	}
	return s
}

// Collection returns a handle to the named collection. Collections are
// created on first write.
func (s *Store) Collection(name string) persistence.StoreCollection {
	return &Collection{store: s, name: name}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close drops all data.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]*collectionData)
	return nil
}

// Collection is a handle to one collection of a Store.
type Collection struct {
	store *Store
	name  string
}

// data returns the collection's data, creating it when create is set.
// Callers hold the store lock.
func (c *Collection) data(create bool) *collectionData {
	d := c.store.collections[c.name]
	if d == nil && create {
		d = &collectionData{ids: make(map[string]struct{})}
		c.store.collections[c.name] = d
	}
	return d
}

// matching returns the positions of documents matching filter, stopping
// after the first one when single is set. Callers hold the store lock.
func (c *Collection) matching(ctx context.Context, d *collectionData, filter persistence.Document, single bool) ([]int, error) {
	if d == nil {
		return nil, nil
	}
	var positions []int
	for i, doc := range d.docs {
		ok, err := c.store.processor.Match(ctx, filter, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, i)
			if single {
				break
			}
		}
	}
	return positions, nil
}

func (c *Collection) Find(ctx context.Context, filter persistence.Document, opts persistence.FindOptions) (persistence.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	projection, err := query.CompileProjection(opts.Projection)
	if err != nil {
		return nil, err
	}

	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	d := c.data(false)
	positions, err := c.matching(ctx, d, filter, false)
	if err != nil {
		return nil, err
	}
	positions = persistence.Window(positions, opts.Skip, opts.Limit)

	docs := make([]persistence.Document, 0, len(positions))
	for _, i := range positions {
		docs = append(docs, projection.Apply(d.docs[i]))
	}
	return persistence.NewSliceCursor(docs), nil
}

func (c *Collection) FindOne(ctx context.Context, filter persistence.Document, projection persistence.Document) (persistence.Document, error) {
	cursor, err := c.Find(ctx, filter, persistence.FindOptions{Projection: projection, Limit: query.Int64Ptr(1)})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	if cursor.Next(ctx) {
		return cursor.Document(), nil
	}
	return nil, cursor.Err()
}

func (c *Collection) InsertOne(ctx context.Context, doc persistence.Document) (any, error) {
	ids, err := c.InsertMany(ctx, []persistence.Document{doc})
	if err != nil {
		return nil, err
	}
	return ids[0], nil
}

// InsertMany validates the whole batch before writing any of it, so a
// duplicate identifier leaves the collection unchanged.
func (c *Collection) InsertMany(ctx context.Context, docs []persistence.Document) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	d := c.data(true)
	keys := make([]string, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		key, err := persistence.IDKey(doc[persistence.IDField])
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		_, exists := d.ids[key]
		_, repeated := seen[key]
		if exists || repeated {
			return nil, &persistence.DuplicateKeyError{Collection: c.name, ID: doc[persistence.IDField]}
		}
		seen[key] = struct{}{}
		keys[i] = key
	}

	ids := make([]any, len(docs))
	for i, doc := range docs {
		d.docs = append(d.docs, utils.CloneDocument(doc))
		d.ids[keys[i]] = struct{}{}
		ids[i] = doc[persistence.IDField]
	}
	c.store.logger.Debug("Inserted documents", zap.String("collection", c.name), zap.Int("count", len(docs)))
	return ids, nil
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	return c.update(ctx, filter, update, true)
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	return c.update(ctx, filter, update, false)
}

// update applies the update to copies of the matching documents and swaps
// them in only when every application succeeded.
func (c *Collection) update(ctx context.Context, filter, update persistence.Document, single bool) (*persistence.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	d := c.data(false)
	positions, err := c.matching(ctx, d, filter, single)
	if err != nil {
		return nil, err
	}

	res := &persistence.UpdateResult{MatchedCount: int64(len(positions))}
	updated := make(map[int]persistence.Document, len(positions))
	for _, i := range positions {
		doc := utils.CloneDocument(d.docs[i])
		changed, err := c.store.processor.ApplyUpdate(doc, update)
		if err != nil {
			return nil, err
		}
		if changed {
			updated[i] = doc
		}
	}
	for i, doc := range updated {
		d.docs[i] = doc
	}
	res.ModifiedCount = int64(len(updated))
	return res, nil
}

func (c *Collection) DeleteOne(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	return c.delete(ctx, filter, true)
}

func (c *Collection) DeleteMany(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	return c.delete(ctx, filter, false)
}

func (c *Collection) delete(ctx context.Context, filter persistence.Document, single bool) (*persistence.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	d := c.data(false)
	positions, err := c.matching(ctx, d, filter, single)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return &persistence.DeleteResult{}, nil
	}

	remove := make(map[int]struct{}, len(positions))
	for _, i := range positions {
		remove[i] = struct{}{}
	}
	kept := d.docs[:0]
	for i, doc := range d.docs {
		if _, ok := remove[i]; ok {
			key, _ := persistence.IDKey(doc[persistence.IDField])
			delete(d.ids, key)
			continue
		}
		kept = append(kept, doc)
	}
	clear(d.docs[len(kept):])
	d.docs = kept
	return &persistence.DeleteResult{DeletedCount: int64(len(positions))}, nil
}
