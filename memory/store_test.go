package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"github.com/asaidimu/go-anansi-rest/core/persistence/storetest"
	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.Store {
		return New()
	})
}

func TestInsertManyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("items")

	_, err := coll.InsertOne(ctx, persistence.Document{"_id": "b"})
	require.NoError(t, err)

	_, err = coll.InsertMany(ctx, []persistence.Document{{"_id": "a"}, {"_id": "b"}, {"_id": "c"}})
	var dup *persistence.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "b", dup.ID)
	assert.True(t, errors.Is(err, persistence.ErrDuplicateKey))

	_, err = coll.InsertMany(ctx, []persistence.Document{{"_id": "x"}, {"_id": "x"}})
	assert.ErrorIs(t, err, persistence.ErrDuplicateKey)

	doc, err := coll.FindOne(ctx, persistence.Document{"_id": "a"}, nil)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestNumericIDsCollide(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("items")

	_, err := coll.InsertOne(ctx, persistence.Document{"_id": int64(1)})
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, persistence.Document{"_id": 1.0})
	assert.ErrorIs(t, err, persistence.ErrDuplicateKey)
	_, err = coll.InsertOne(ctx, persistence.Document{"_id": "1"})
	assert.NoError(t, err)
}

func TestInsertWithoutIDFails(t *testing.T) {
	_, err := New().Collection("items").InsertOne(context.Background(), persistence.Document{"name": "x"})
	assert.Error(t, err)
}

func TestStoredDocumentsAreIsolatedFromCallers(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("items")

	doc := persistence.Document{"_id": "a", "nested": map[string]any{"n": int64(1)}}
	_, err := coll.InsertOne(ctx, doc)
	require.NoError(t, err)
	doc["nested"].(map[string]any)["n"] = int64(2)

	found, err := coll.FindOne(ctx, persistence.Document{"_id": "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found["nested"].(map[string]any)["n"])

	found["nested"].(map[string]any)["n"] = int64(3)
	again, err := coll.FindOne(ctx, persistence.Document{"_id": "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again["nested"].(map[string]any)["n"])
}

func TestFailedUpdateLeavesDocumentsUnchanged(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("items")
	_, err := coll.InsertMany(ctx, []persistence.Document{
		{"_id": "a", "n": int64(1)},
		{"_id": "b", "n": "text"},
	})
	require.NoError(t, err)

	_, err = coll.UpdateMany(ctx, persistence.Document{}, persistence.Document{"$inc": map[string]any{"n": int64(1)}})
	require.Error(t, err)

	doc, err := coll.FindOne(ctx, persistence.Document{"_id": "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["n"])
}

func TestCustomOperator(t *testing.T) {
	ctx := context.Background()
	processor := query.NewDataProcessor(nil)
	processor.RegisterFilterFunction("$even", func(ctx context.Context, doc query.Document, field string, args any) (bool, error) {
		n, ok := query.ToInt64(doc[field])
		return ok && n%2 == 0, nil
	})
	coll := New(WithProcessor(processor)).Collection("items")
	_, err := coll.InsertMany(ctx, []persistence.Document{{"_id": "a", "n": int64(1)}, {"_id": "b", "n": int64(2)}})
	require.NoError(t, err)

	doc, err := coll.FindOne(ctx, persistence.Document{"n": map[string]any{"$even": true}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", doc["_id"])
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := New()
	assert.ErrorIs(t, store.Ping(ctx), context.Canceled)
	_, err := store.Collection("items").Find(ctx, persistence.Document{}, persistence.FindOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
