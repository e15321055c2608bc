// Package storetest holds behaviour tests shared by every persistence.Store
// implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it when the test ends.
type Factory func(t *testing.T) persistence.Store

func people() []persistence.Document {
	return []persistence.Document{
		{"_id": "a", "name": "Ann", "age": int64(25), "tags": []any{"x", "y"}, "address": map[string]any{"city": "Oslo"}},
		{"_id": "b", "name": "Bob", "age": int64(30), "tags": []any{"y"}, "address": map[string]any{"city": "Rome"}},
		{"_id": "c", "name": "Cid", "age": int64(40), "tags": []any{}, "address": map[string]any{"city": "Oslo"}},
	}
}

func seed(t *testing.T, ctx context.Context, store persistence.Store, name string) persistence.StoreCollection {
	t.Helper()
	coll := store.Collection(name)
	ids, err := coll.InsertMany(ctx, people())
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b", "c"}, ids)
	return coll
}

func findAll(t *testing.T, ctx context.Context, coll persistence.StoreCollection, filter persistence.Document, opts persistence.FindOptions) []persistence.Document {
	t.Helper()
	cursor, err := coll.Find(ctx, filter, opts)
	require.NoError(t, err)
	defer cursor.Close(ctx)

	var docs []persistence.Document
	for cursor.Next(ctx) {
		docs = append(docs, cursor.Document())
	}
	require.NoError(t, cursor.Err())
	return docs
}

func ids(docs []persistence.Document) []any {
	out := make([]any, len(docs))
	for i, doc := range docs {
		out[i] = doc["_id"]
	}
	return out
}

// Run exercises newStore against the behaviour every store must share.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) persistence.Store {
		store := newStore(t)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	}

	t.Run("Ping", func(t *testing.T) {
		store := open(t)
		assert.NoError(t, store.Ping(context.Background()))
	})

	t.Run("FindReturnsInsertionOrder", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		docs := findAll(t, ctx, coll, persistence.Document{}, persistence.FindOptions{})
		require.Len(t, docs, 3)
		assert.Equal(t, []any{"a", "b", "c"}, ids(docs))
		assert.Equal(t, "Ann", docs[0]["name"])
		assert.Equal(t, int64(25), docs[0]["age"])
		assert.Equal(t, []any{"x", "y"}, docs[0]["tags"])
		assert.Equal(t, map[string]any{"city": "Oslo"}, docs[0]["address"])
	})

	t.Run("FindWithSelectors", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		tests := []struct {
			name   string
			filter persistence.Document
			want   []any
		}{
			{"Equality", persistence.Document{"name": "Bob"}, []any{"b"}},
			{"Range", persistence.Document{"age": map[string]any{"$gte": int64(30)}}, []any{"b", "c"}},
			{"NestedPath", persistence.Document{"address.city": "Oslo"}, []any{"a", "c"}},
			{"ArrayElement", persistence.Document{"tags": "y"}, []any{"a", "b"}},
			{"In", persistence.Document{"_id": map[string]any{"$in": []any{"a", "c", "z"}}}, []any{"a", "c"}},
			{"Or", persistence.Document{"$or": []any{
				map[string]any{"name": "Ann"},
				map[string]any{"age": map[string]any{"$gt": int64(35)}},
			}}, []any{"a", "c"}},
			{"NoMatch", persistence.Document{"name": "Zed"}, []any{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				docs := findAll(t, ctx, coll, tt.filter, persistence.FindOptions{})
				assert.Equal(t, tt.want, ids(docs))
			})
		}
	})

	t.Run("FindWithProjectionAndWindow", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		docs := findAll(t, ctx, coll, persistence.Document{}, persistence.FindOptions{
			Projection: persistence.Document{"name": int64(1)},
			Skip:       query.Int64Ptr(1),
			Limit:      query.Int64Ptr(1),
		})
		require.Len(t, docs, 1)
		assert.Equal(t, persistence.Document{"_id": "b", "name": "Bob"}, docs[0])

		docs = findAll(t, ctx, coll, persistence.Document{}, persistence.FindOptions{
			Projection: persistence.Document{"address": int64(0), "tags": int64(0), "age": int64(0)},
			Skip:       query.Int64Ptr(5),
		})
		assert.Empty(t, docs)
	})

	t.Run("FindOne", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		doc, err := coll.FindOne(ctx, persistence.Document{"_id": "b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Bob", doc["name"])

		doc, err = coll.FindOne(ctx, persistence.Document{"_id": "b"}, persistence.Document{"_id": int64(1)})
		require.NoError(t, err)
		assert.Equal(t, persistence.Document{"_id": "b"}, doc)

		doc, err = coll.FindOne(ctx, persistence.Document{"_id": "missing"}, nil)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("InsertOneRejectsDuplicateID", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		_, err := coll.InsertOne(ctx, persistence.Document{"_id": "a", "name": "Other"})
		require.Error(t, err)

		doc, err := coll.FindOne(ctx, persistence.Document{"_id": "a"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Ann", doc["name"])
	})

	t.Run("UpdateMany", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		res, err := coll.UpdateMany(ctx,
			persistence.Document{"address.city": "Oslo"},
			persistence.Document{"$set": map[string]any{"active": true}, "$inc": map[string]any{"age": int64(1)}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.MatchedCount)
		assert.Equal(t, int64(2), res.ModifiedCount)

		docs := findAll(t, ctx, coll, persistence.Document{"active": true}, persistence.FindOptions{})
		require.Len(t, docs, 2)
		assert.Equal(t, int64(26), docs[0]["age"])
		assert.Equal(t, int64(41), docs[1]["age"])
	})

	t.Run("UpdateWithoutChangeIsNotModified", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		res, err := coll.UpdateMany(ctx, persistence.Document{}, persistence.Document{"$set": map[string]any{"name": "Bob"}})
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.MatchedCount)
		assert.Equal(t, int64(2), res.ModifiedCount)
	})

	t.Run("UpdateOne", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		res, err := coll.UpdateOne(ctx, persistence.Document{"address.city": "Oslo"}, persistence.Document{"$set": map[string]any{"name": "Changed"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.MatchedCount)
		assert.Equal(t, int64(1), res.ModifiedCount)

		docs := findAll(t, ctx, coll, persistence.Document{"name": "Changed"}, persistence.FindOptions{})
		assert.Equal(t, []any{"a"}, ids(docs))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		res, err := coll.UpdateOne(ctx, persistence.Document{"_id": "zz"}, persistence.Document{"$set": map[string]any{"name": "X"}})
		require.NoError(t, err)
		assert.Zero(t, res.MatchedCount)
		assert.Zero(t, res.ModifiedCount)
	})

	t.Run("DeleteOneAndMany", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		res, err := coll.DeleteOne(ctx, persistence.Document{"address.city": "Oslo"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.DeletedCount)
		assert.Equal(t, []any{"b", "c"}, ids(findAll(t, ctx, coll, persistence.Document{}, persistence.FindOptions{})))

		res, err = coll.DeleteMany(ctx, persistence.Document{"age": map[string]any{"$lt": int64(100)}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.DeletedCount)
		assert.Empty(t, findAll(t, ctx, coll, persistence.Document{}, persistence.FindOptions{}))

		res, err = coll.DeleteMany(ctx, persistence.Document{})
		require.NoError(t, err)
		assert.Zero(t, res.DeletedCount)
	})

	t.Run("DeletedIDCanBeReused", func(t *testing.T) {
		ctx := context.Background()
		coll := seed(t, ctx, open(t), "people")

		_, err := coll.DeleteOne(ctx, persistence.Document{"_id": "a"})
		require.NoError(t, err)
		id, err := coll.InsertOne(ctx, persistence.Document{"_id": "a", "name": "New"})
		require.NoError(t, err)
		assert.Equal(t, "a", id)
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)
		seed(t, ctx, store, "people")

		other := store.Collection("others")
		assert.Empty(t, findAll(t, ctx, other, persistence.Document{}, persistence.FindOptions{}))

		_, err := other.InsertOne(ctx, persistence.Document{"_id": "a"})
		require.NoError(t, err)

		res, err := other.DeleteMany(ctx, persistence.Document{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.DeletedCount)
		assert.Len(t, findAll(t, ctx, store.Collection("people"), persistence.Document{}, persistence.FindOptions{}), 3)
	})
}
