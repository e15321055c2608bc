// Package persistence maps collection-level REST operations onto a document
// store: collection name resolution, insert shape detection, identifier
// assignment and existence-checked single-document mutations. Every operation
// is observable through a typed event bus.
package persistence

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mapper translates collection operations into store calls.
type Mapper struct {
	store         Store
	policy        NamingPolicy
	logger        *zap.Logger
	newID         func() string
	bus           *events.TypedEventBus[PersistenceEvent]
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the mapper's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithIDGenerator replaces the identifier generator used for documents
// inserted without an _id. The default generates random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(m *Mapper) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewMapper creates a mapper over store. The naming policy cannot be changed
// afterwards.
func NewMapper(store Store, policy NamingPolicy, opts ...Option) (*Mapper, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	bus, err := events.NewTypedEventBus[PersistenceEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	m := &Mapper{
		store:         store,
		policy:        policy,
		logger:        zap.NewNop(),
		newID:         uuid.NewString,
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Policy returns the naming policy fixed at construction.
func (m *Mapper) Policy() NamingPolicy {
	return m.policy
}

// Ping checks that the underlying store is reachable.
func (m *Mapper) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Mapper) collection(logical string) (StoreCollection, string, error) {
	name, err := m.policy.Resolve(logical)
	if err != nil {
		return nil, "", err
	}
	return m.store.Collection(name), name, nil
}

// Query returns the documents matching params, in store order. A nil params
// matches every document. The result is never nil.
func (m *Mapper) Query(ctx context.Context, collection string, params *query.Params) ([]Document, error) {
	coll, name, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &query.Params{}
	}
	filter := params.Filter
	if filter == nil {
		filter = Document{}
	}

	return withEventEmission(m, opQuery, name, nil, params, func() ([]Document, error) {
		cursor, err := coll.Find(ctx, filter, FindOptions{
			Projection: params.Projection,
			Skip:       params.Skip,
			Limit:      params.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query collection '%s': %w", name, err)
		}
		defer cursor.Close(ctx)

		docs := []Document{}
		for cursor.Next(ctx) {
			docs = append(docs, cursor.Document())
		}
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("failed to read results from collection '%s': %w", name, err)
		}
		m.logger.Debug("Query completed", zap.String("collection", name), zap.Int("count", len(docs)))
		return docs, nil
	})
}

// Insert stores the body. An array body is a batch insert, an object body a
// single insert; any other body is ErrInvalidBody. Documents whose _id is
// missing, null or "" get a generated identifier. An empty array is a no-op.
func (m *Mapper) Insert(ctx context.Context, collection string, body any) (*InsertResult, error) {
	coll, name, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	var docs []Document
	batch := false
	switch v := body.(type) {
	case map[string]any:
		docs = []Document{m.withID(v)}
	case []map[string]any:
		batch = true
		for _, doc := range v {
			docs = append(docs, m.withID(doc))
		}
	case []any:
		batch = true
		for i, item := range v {
			doc, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %d of the insert body is %T, not an object", ErrInvalidBody, i, item)
			}
			docs = append(docs, m.withID(doc))
		}
	default:
		return nil, fmt.Errorf("%w: insert body must be an object or an array of objects, got %T", ErrInvalidBody, body)
	}
	for i, doc := range docs {
		if err := query.CheckValue(doc); err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrInvalidBody, i, err)
		}
	}

	return withEventEmission(m, opInsert, name, docs, nil, func() (*InsertResult, error) {
		if !batch {
			id, err := coll.InsertOne(ctx, docs[0])
			if err != nil {
				return nil, fmt.Errorf("failed to insert into collection '%s': %w", name, err)
			}
			return &InsertResult{OK: 1, InsertedCount: 1, InsertedID: id}, nil
		}

		if len(docs) == 0 {
			return &InsertResult{OK: 1, InsertedIDs: []any{}, batch: true}, nil
		}
		ids, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("failed to insert into collection '%s': %w", name, err)
		}
		return &InsertResult{OK: 1, InsertedCount: int64(len(ids)), InsertedIDs: ids, batch: true}, nil
	})
}

// withID returns a shallow copy of doc carrying an identifier.
func (m *Mapper) withID(doc map[string]any) Document {
	out := maps.Clone(doc)
	if out == nil {
		out = Document{}
	}
	if id, ok := out[IDField]; !ok || id == nil || id == "" {
		out[IDField] = m.newID()
	}
	return out
}

// UpdateMany applies patch, an update document such as {"$set": {...}}, to
// every document matching filter. A nil filter matches every document.
func (m *Mapper) UpdateMany(ctx context.Context, collection string, filter Document, patch any) (*UpdateResult, error) {
	coll, name, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	update, err := updateDocument(patch)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = Document{}
	}

	return withEventEmission(m, opUpdate, name, update, filter, func() (*UpdateResult, error) {
		res, err := coll.UpdateMany(ctx, filter, update)
		if err != nil {
			return nil, fmt.Errorf("failed to update collection '%s': %w", name, err)
		}
		return withOK(res), nil
	})
}

// DeleteMany removes every document matching filter. A nil filter matches
// every document.
func (m *Mapper) DeleteMany(ctx context.Context, collection string, filter Document) (*DeleteResult, error) {
	coll, name, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = Document{}
	}

	return withEventEmission(m, opDelete, name, nil, filter, func() (*DeleteResult, error) {
		res, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to delete from collection '%s': %w", name, err)
		}
		return &DeleteResult{OK: 1, DeletedCount: res.DeletedCount}, nil
	})
}

// GetByID returns the document with the given identifier. found is false when
// no such document exists.
func (m *Mapper) GetByID(ctx context.Context, collection string, id string) (Document, bool, error) {
	coll, name, err := m.collection(collection)
	if err != nil {
		return nil, false, err
	}

	doc, err := withEventEmission(m, opGet, name, id, nil, func() (Document, error) {
		doc, err := coll.FindOne(ctx, byID(id), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s' from collection '%s': %w", id, name, err)
		}
		return doc, nil
	})
	if err != nil {
		return nil, false, err
	}
	return doc, doc != nil, nil
}

// UpdateByID applies patch to the document with the given identifier. The
// document's existence is checked first; when it is absent no update is
// attempted and found is false. The check and the update are not atomic.
func (m *Mapper) UpdateByID(ctx context.Context, collection string, id string, patch any) (*UpdateResult, bool, error) {
	coll, name, err := m.collection(collection)
	if err != nil {
		return nil, false, err
	}
	update, err := updateDocument(patch)
	if err != nil {
		return nil, false, err
	}

	res, err := withEventEmission(m, opUpdateByID, name, update, id, func() (*UpdateResult, error) {
		exists, err := m.exists(ctx, coll, id)
		if err != nil || !exists {
			return nil, err
		}
		res, err := coll.UpdateOne(ctx, byID(id), update)
		if err != nil {
			return nil, fmt.Errorf("failed to update '%s' in collection '%s': %w", id, name, err)
		}
		return withOK(res), nil
	})
	if err != nil {
		return nil, false, err
	}
	return res, res != nil, nil
}

// DeleteByID removes the document with the given identifier, with the same
// existence check as UpdateByID.
func (m *Mapper) DeleteByID(ctx context.Context, collection string, id string) (*DeleteResult, bool, error) {
	coll, name, err := m.collection(collection)
	if err != nil {
		return nil, false, err
	}

	res, err := withEventEmission(m, opDeleteByID, name, nil, id, func() (*DeleteResult, error) {
		exists, err := m.exists(ctx, coll, id)
		if err != nil || !exists {
			return nil, err
		}
		res, err := coll.DeleteOne(ctx, byID(id))
		if err != nil {
			return nil, fmt.Errorf("failed to delete '%s' from collection '%s': %w", id, name, err)
		}
		return &DeleteResult{OK: 1, DeletedCount: res.DeletedCount}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res, res != nil, nil
}

func (m *Mapper) exists(ctx context.Context, coll StoreCollection, id string) (bool, error) {
	doc, err := coll.FindOne(ctx, byID(id), query.NewQueryBuilder().Include(IDField).Build().Projection)
	if err != nil {
		return false, fmt.Errorf("failed to look up '%s': %w", id, err)
	}
	return doc != nil, nil
}

func byID(id string) Document {
	return query.NewQueryBuilder().Where(IDField).Eq(id).Selector()
}

func updateDocument(patch any) (Document, error) {
	update, ok := patch.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: update body must be an object, got %T", ErrInvalidBody, patch)
	}
	if err := query.ValidateUpdate(update); err != nil {
		return nil, err
	}
	if err := query.CheckValue(update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return update, nil
}

func withOK(res *UpdateResult) *UpdateResult {
	out := *res
	out.OK = 1
	return &out
}
