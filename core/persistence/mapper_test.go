package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/asaidimu/go-anansi-rest/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore records which collections and operations the mapper used.
type recordingStore struct {
	persistence.Store
	mu    sync.Mutex
	names []string
	calls []string
	fail  error
}

func (s *recordingStore) Collection(name string) persistence.StoreCollection {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	return &recordingCollection{StoreCollection: s.Store.Collection(name), store: s}
}

func (s *recordingStore) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.fail
}

func (s *recordingStore) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type recordingCollection struct {
	persistence.StoreCollection
	store *recordingStore
}

func (c *recordingCollection) Find(ctx context.Context, filter persistence.Document, opts persistence.FindOptions) (persistence.Cursor, error) {
	if err := c.store.record("Find"); err != nil {
		return nil, err
	}
	return c.StoreCollection.Find(ctx, filter, opts)
}

func (c *recordingCollection) FindOne(ctx context.Context, filter, projection persistence.Document) (persistence.Document, error) {
	if err := c.store.record("FindOne"); err != nil {
		return nil, err
	}
	return c.StoreCollection.FindOne(ctx, filter, projection)
}

func (c *recordingCollection) InsertOne(ctx context.Context, doc persistence.Document) (any, error) {
	if err := c.store.record("InsertOne"); err != nil {
		return nil, err
	}
	return c.StoreCollection.InsertOne(ctx, doc)
}

func (c *recordingCollection) InsertMany(ctx context.Context, docs []persistence.Document) ([]any, error) {
	if err := c.store.record("InsertMany"); err != nil {
		return nil, err
	}
	return c.StoreCollection.InsertMany(ctx, docs)
}

func (c *recordingCollection) UpdateOne(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	if err := c.store.record("UpdateOne"); err != nil {
		return nil, err
	}
	return c.StoreCollection.UpdateOne(ctx, filter, update)
}

func (c *recordingCollection) UpdateMany(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	if err := c.store.record("UpdateMany"); err != nil {
		return nil, err
	}
	return c.StoreCollection.UpdateMany(ctx, filter, update)
}

func (c *recordingCollection) DeleteOne(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	if err := c.store.record("DeleteOne"); err != nil {
		return nil, err
	}
	return c.StoreCollection.DeleteOne(ctx, filter)
}

func (c *recordingCollection) DeleteMany(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	if err := c.store.record("DeleteMany"); err != nil {
		return nil, err
	}
	return c.StoreCollection.DeleteMany(ctx, filter)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func newTestMapper(t *testing.T, prefix string) (*persistence.Mapper, *recordingStore) {
	t.Helper()
	store := &recordingStore{Store: memory.New()}
	m, err := persistence.NewMapper(store, persistence.NamingPolicy{Prefix: prefix}, persistence.WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)
	return m, store
}

func seedPeople(t *testing.T, m *persistence.Mapper) {
	t.Helper()
	_, err := m.Insert(context.Background(), "people", []any{
		map[string]any{"_id": "a", "name": "Ann", "age": int64(25)},
		map[string]any{"_id": "b", "name": "Bob", "age": int64(30)},
		map[string]any{"_id": "c", "name": "Cid", "age": int64(40)},
	})
	require.NoError(t, err)
}

func TestNewMapperRequiresStore(t *testing.T) {
	_, err := persistence.NewMapper(nil, persistence.NamingPolicy{})
	assert.Error(t, err)
}

func TestMapperResolvesCollectionNames(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "app_")
	assert.Equal(t, "app_", m.Policy().Prefix)

	_, err := m.Query(ctx, "order-items", nil)
	require.NoError(t, err)
	_, _, err = m.GetByID(ctx, "user_accounts", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"app_orderItems", "app_userAccounts"}, store.names)

	_, err = m.Query(ctx, "--", nil)
	assert.ErrorIs(t, err, persistence.ErrInvalidCollectionName)
	assert.True(t, persistence.IsClientError(err))
}

func TestMapperQuery(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, "")
	seedPeople(t, m)

	docs, err := m.Query(ctx, "people", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	params := query.NewQueryBuilder().
		Where("age").Gte(int64(30)).
		Include("name").
		Limit(1).
		Build()
	docs, err = m.Query(ctx, "people", &params)
	require.NoError(t, err)
	assert.Equal(t, []persistence.Document{{"_id": "b", "name": "Bob"}}, docs)

	docs, err = m.Query(ctx, "nobody", nil)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestMapperInsertSingle(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")

	res, err := m.Insert(ctx, "people", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	assert.False(t, res.Batch())
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, int64(1), res.InsertedCount)
	assert.Equal(t, "id-1", res.InsertedID)
	assert.Equal(t, []string{"InsertOne"}, store.recorded())

	doc, found, err := m.GetByID(ctx, "people", "id-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ann", doc["name"])
}

func TestMapperInsertKeepsCallerID(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, "")

	for _, tc := range []struct {
		body map[string]any
		want any
	}{
		{map[string]any{"_id": "mine"}, "mine"},
		{map[string]any{"_id": int64(5)}, int64(5)},
		{map[string]any{"_id": nil}, "id-1"},
		{map[string]any{"_id": ""}, "id-2"},
	} {
		res, err := m.Insert(ctx, "things", tc.body)
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.InsertedID)
	}
}

func TestMapperInsertDoesNotMutateBody(t *testing.T) {
	body := map[string]any{"name": "Ann"}
	m, _ := newTestMapper(t, "")
	_, err := m.Insert(context.Background(), "people", body)
	require.NoError(t, err)
	assert.NotContains(t, body, "_id")
}

func TestMapperInsertBatch(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")

	res, err := m.Insert(ctx, "people", []any{
		map[string]any{"name": "Ann"},
		map[string]any{"_id": "own", "name": "Bob"},
	})
	require.NoError(t, err)
	assert.True(t, res.Batch())
	assert.Equal(t, int64(2), res.InsertedCount)
	assert.Equal(t, []any{"id-1", "own"}, res.InsertedIDs)

	res, err = m.Insert(ctx, "people", []map[string]any{{"name": "Cid"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"id-2"}, res.InsertedIDs)

	res, err = m.Insert(ctx, "people", []any{})
	require.NoError(t, err)
	assert.True(t, res.Batch())
	assert.Zero(t, res.InsertedCount)
	assert.Equal(t, []any{}, res.InsertedIDs)

	assert.Equal(t, []string{"InsertMany", "InsertMany"}, store.recorded())
}

func TestMapperInsertRejectsInvalidBodies(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")

	for _, body := range []any{nil, "text", int64(1), []any{map[string]any{}, "x"}} {
		_, err := m.Insert(ctx, "people", body)
		assert.ErrorIs(t, err, persistence.ErrInvalidBody, "%v", body)
	}
	assert.Empty(t, store.recorded())
}

func TestMapperRejectsUnrepresentableValues(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")

	for _, body := range []any{
		map[string]any{"_id": "a", "f": math.Inf(1)},
		[]any{map[string]any{"_id": "a"}, map[string]any{"_id": "b", "n": []any{math.NaN()}}},
		map[string]any{"_id": "a", "s": "\xff"},
	} {
		_, err := m.Insert(ctx, "items", body)
		assert.ErrorIs(t, err, persistence.ErrInvalidBody, "%v", body)
		assert.True(t, persistence.IsClientError(err))
	}

	patch := map[string]any{"$set": map[string]any{"f": math.Inf(-1)}}
	_, err := m.UpdateMany(ctx, "items", nil, patch)
	assert.ErrorIs(t, err, persistence.ErrInvalidBody)
	_, _, err = m.UpdateByID(ctx, "items", "a", patch)
	assert.ErrorIs(t, err, persistence.ErrInvalidBody)

	assert.Empty(t, store.recorded())
}

func TestMapperInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, "")
	seedPeople(t, m)

	_, err := m.Insert(ctx, "people", map[string]any{"_id": "a"})
	assert.ErrorIs(t, err, persistence.ErrDuplicateKey)
	assert.False(t, persistence.IsClientError(err))
}

func TestMapperUpdateMany(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, "")
	seedPeople(t, m)

	update := query.NewUpdateBuilder().Set("senior", true).Build()
	res, err := m.UpdateMany(ctx, "people", persistence.Document{"age": map[string]any{"$gte": int64(30)}}, update)
	require.NoError(t, err)
	assert.Equal(t, &persistence.UpdateResult{OK: 1, MatchedCount: 2, ModifiedCount: 2}, res)

	res, err = m.UpdateMany(ctx, "people", nil, map[string]any{"$set": map[string]any{"senior": true}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.MatchedCount)
	assert.Equal(t, int64(1), res.ModifiedCount)
}

func TestMapperUpdateRejectsInvalidPatches(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")

	for _, patch := range []any{nil, []any{}, "x", map[string]any{}, map[string]any{"name": "x"}, map[string]any{"$set": "x"}} {
		_, err := m.UpdateMany(ctx, "people", nil, patch)
		assert.Error(t, err)
		assert.True(t, persistence.IsClientError(err), "%v", patch)

		_, _, err = m.UpdateByID(ctx, "people", "a", patch)
		assert.True(t, persistence.IsClientError(err), "%v", patch)
	}
	assert.Empty(t, store.recorded())
}

func TestMapperDeleteMany(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, "")
	seedPeople(t, m)

	res, err := m.DeleteMany(ctx, "people", persistence.Document{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, &persistence.DeleteResult{OK: 1, DeletedCount: 1}, res)

	res, err = m.DeleteMany(ctx, "people", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.DeletedCount)
}

func TestMapperGetByID(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, "")
	seedPeople(t, m)

	doc, found, err := m.GetByID(ctx, "people", "b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, persistence.Document{"_id": "b", "name": "Bob", "age": int64(30)}, doc)

	doc, found, err = m.GetByID(ctx, "people", "zz")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestMapperUpdateByIDChecksExistenceFirst(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")
	seedPeople(t, m)
	store.calls = nil

	res, found, err := m.UpdateByID(ctx, "people", "a", map[string]any{"$set": map[string]any{"name": "Anna"}})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, &persistence.UpdateResult{OK: 1, MatchedCount: 1, ModifiedCount: 1}, res)
	assert.Equal(t, []string{"FindOne", "UpdateOne"}, store.recorded())

	store.calls = nil
	res, found, err = m.UpdateByID(ctx, "people", "zz", map[string]any{"$set": map[string]any{"name": "X"}})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, res)
	assert.Equal(t, []string{"FindOne"}, store.recorded())
}

func TestMapperDeleteByIDChecksExistenceFirst(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")
	seedPeople(t, m)
	store.calls = nil

	res, found, err := m.DeleteByID(ctx, "people", "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, &persistence.DeleteResult{OK: 1, DeletedCount: 1}, res)
	assert.Equal(t, []string{"FindOne", "DeleteOne"}, store.recorded())

	store.calls = nil
	res, found, err = m.DeleteByID(ctx, "people", "a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, res)
	assert.Equal(t, []string{"FindOne"}, store.recorded())
}

func TestMapperPropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, "")
	boom := errors.New("boom")
	store.fail = boom

	_, err := m.Query(ctx, "people", nil)
	assert.ErrorIs(t, err, boom)
	_, err = m.Insert(ctx, "people", map[string]any{})
	assert.ErrorIs(t, err, boom)
	_, _, err = m.GetByID(ctx, "people", "a")
	assert.ErrorIs(t, err, boom)
	_, found, err := m.DeleteByID(ctx, "people", "a")
	assert.ErrorIs(t, err, boom)
	assert.False(t, found)
	assert.False(t, persistence.IsClientError(err))
}

func TestMapperEmitsEvents(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, "")

	var (
		mu     sync.Mutex
		events []persistence.PersistenceEvent
	)
	record := func(ctx context.Context, e persistence.PersistenceEvent) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	}
	label := "test"
	successID := m.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event: persistence.DocumentInsertSuccess, Label: &label, Callback: record,
	})
	m.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event:    persistence.DocumentInsertFailed,
		Callback: func(ctx context.Context, e persistence.PersistenceEvent) error { _ = record(ctx, e); return errors.New("ignored") },
	})

	subs, err := m.Subscriptions()
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = m.Insert(ctx, "people", map[string]any{"_id": "a"})
	require.NoError(t, err)
	_, err = m.Insert(ctx, "people", map[string]any{"_id": "a"})
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	byType := map[persistence.PersistenceEventType]persistence.PersistenceEvent{}
	for _, e := range events {
		byType[e.Type] = e
	}
	mu.Unlock()

	success := byType[persistence.DocumentInsertSuccess]
	assert.Equal(t, "insert", success.Operation)
	require.NotNil(t, success.Collection)
	assert.Equal(t, "people", *success.Collection)
	assert.NotNil(t, success.Duration)
	assert.Nil(t, success.Error)

	failed := byType[persistence.DocumentInsertFailed]
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "duplicate key")

	m.UnregisterSubscription(successID)
	m.UnregisterSubscription("unknown")
	subs, err = m.Subscriptions()
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestOutcomeEventTypes(t *testing.T) {
	types := persistence.OutcomeEventTypes()
	assert.Len(t, types, 14)
	assert.Contains(t, types, persistence.DocumentQuerySuccess)
	assert.Contains(t, types, persistence.DocumentDeleteByIDFailed)
	assert.NotContains(t, types, persistence.DocumentQueryStart)
}
