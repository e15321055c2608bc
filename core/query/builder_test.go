package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewQueryBuilder(t *testing.T) {
	qb := NewQueryBuilder()
	params := qb.Build()
	assert.Equal(t, Document{}, params.Filter)
	assert.Nil(t, params.Projection)
	assert.Nil(t, params.Skip)
	assert.Nil(t, params.Limit)
}

func TestQueryBuilder_Where(t *testing.T) {
	t.Run("lone equality is a plain value", func(t *testing.T) {
		selector := NewQueryBuilder().Where(IDField).Eq("u1").Selector()
		assert.Equal(t, Document{"_id": "u1"}, selector)
	})

	t.Run("conditions on one field merge", func(t *testing.T) {
		selector := NewQueryBuilder().
			Where("age").Gte(int64(30)).
			Where("age").Lt(int64(65)).
			Where("name").In("Ann", "Bea").
			Selector()
		assert.Equal(t, Document{
			"age":  map[string]any{"$gte": int64(30), "$lt": int64(65)},
			"name": map[string]any{"$in": []any{"Ann", "Bea"}},
		}, selector)
	})

	t.Run("equality on an operator-like value stays explicit", func(t *testing.T) {
		selector := NewQueryBuilder().Where("meta").Eq(map[string]any{"$gt": int64(1)}).Selector()
		assert.Equal(t, Document{"meta": map[string]any{"$eq": map[string]any{"$gt": int64(1)}}}, selector)
	})

	t.Run("all condition kinds", func(t *testing.T) {
		selector := NewQueryBuilder().
			Where("a").Ne(int64(1)).
			Where("b").Gt(int64(1)).
			Where("c").Lte(int64(1)).
			Where("d").Nin("x").
			Where("e").Exists(false).
			Where("f").Regex("^x").
			Where("g").Size(2).
			Where("h").Custom("$near", "here").
			Selector()
		assert.Equal(t, Document{
			"a": map[string]any{"$ne": int64(1)},
			"b": map[string]any{"$gt": int64(1)},
			"c": map[string]any{"$lte": int64(1)},
			"d": map[string]any{"$nin": []any{"x"}},
			"e": map[string]any{"$exists": false},
			"f": map[string]any{"$regex": "^x"},
			"g": map[string]any{"$size": int64(2)},
			"h": map[string]any{"$near": "here"},
		}, selector)
	})
}

func TestQueryBuilder_WhereGroup(t *testing.T) {
	selector := NewQueryBuilder().
		WhereGroup(OperatorOr).
		Where("name", func(c *FilterConditionBuilder) *QueryBuilder { return c.Eq("Ann") }).
		Add(Document{"age": map[string]any{"$gt": int64(40)}}).
		End().
		Selector()

	assert.Equal(t, Document{
		"$or": []any{
			map[string]any{"name": "Ann"},
			map[string]any{"age": map[string]any{"$gt": int64(40)}},
		},
	}, selector)
}

func TestQueryBuilder_ProjectionAndPagination(t *testing.T) {
	params := NewQueryBuilder().Include("name", "age").Exclude(IDField).Skip(5).Limit(10).Build()
	assert.Equal(t, Document{"name": int64(1), "age": int64(1), "_id": int64(0)}, params.Projection)
	assert.Equal(t, int64(5), *params.Skip)
	assert.Equal(t, int64(10), *params.Limit)

	params = NewQueryBuilder().Skip(5).Skip(0).Build()
	assert.Nil(t, params.Skip)
}

func TestQueryBuilder_CloneAndReset(t *testing.T) {
	qb := NewQueryBuilder().Where("age").Gt(int64(1)).Limit(10)
	clone := qb.Clone()

	clone.Where("name").Eq("Ann").Limit(20)
	assert.Equal(t, Document{"age": map[string]any{"$gt": int64(1)}}, qb.Selector())
	assert.Equal(t, int64(10), *qb.Build().Limit)
	assert.Equal(t, int64(20), *clone.Build().Limit)

	qb.Reset()
	assert.Equal(t, Document{}, qb.Selector())
	assert.Nil(t, qb.Build().Limit)
}

func TestUpdateBuilder(t *testing.T) {
	update := NewUpdateBuilder().
		Set("name", "Ann").
		Set("address.city", "Nairobi").
		Unset("secret").
		Inc("visits", int64(1)).
		Push("tags", "x").
		Min("low", int64(1)).
		Max("high", int64(9)).
		Build()

	assert.Equal(t, Document{
		"$set":   map[string]any{"name": "Ann", "address.city": "Nairobi"},
		"$unset": map[string]any{"secret": ""},
		"$inc":   map[string]any{"visits": int64(1)},
		"$push":  map[string]any{"tags": "x"},
		"$min":   map[string]any{"low": int64(1)},
		"$max":   map[string]any{"high": int64(9)},
	}, update)
	assert.NoError(t, ValidateUpdate(update))
}
