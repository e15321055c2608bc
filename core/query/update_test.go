package query

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataProcessor_ApplyUpdate(t *testing.T) {
	p := NewDataProcessor(nil)

	newDoc := func() Document {
		return Document{
			"_id":   "u1",
			"name":  "Ann",
			"age":   int64(30),
			"score": 1.5,
			"tags":  []any{"a"},
			"address": map[string]any{
				"city": "Nairobi",
			},
		}
	}

	tests := []struct {
		name     string
		update   Document
		changed  bool
		expected func(Document)
	}{
		{
			name:    "set scalar",
			update:  Document{"$set": map[string]any{"name": "Bea"}},
			changed: true,
			expected: func(d Document) {
				d["name"] = "Bea"
			},
		},
		{
			name:     "set same value",
			update:   Document{"$set": map[string]any{"name": "Ann"}},
			changed:  false,
			expected: func(Document) {},
		},
		{
			name:    "set creates nested fields",
			update:  Document{"$set": map[string]any{"profile.bio.short": "hi"}},
			changed: true,
			expected: func(d Document) {
				d["profile"] = map[string]any{"bio": map[string]any{"short": "hi"}}
			},
		},
		{
			name:    "set array element",
			update:  Document{"$set": map[string]any{"tags.0": "z"}},
			changed: true,
			expected: func(d Document) {
				d["tags"] = []any{"z"}
			},
		},
		{
			name:    "unset",
			update:  Document{"$unset": map[string]any{"address.city": ""}},
			changed: true,
			expected: func(d Document) {
				d["address"] = map[string]any{}
			},
		},
		{
			name:     "unset missing",
			update:   Document{"$unset": map[string]any{"nope.deeper": ""}},
			changed:  false,
			expected: func(Document) {},
		},
		{
			name:    "inc integer",
			update:  Document{"$inc": map[string]any{"age": int64(2)}},
			changed: true,
			expected: func(d Document) {
				d["age"] = int64(32)
			},
		},
		{
			name:    "inc float",
			update:  Document{"$inc": map[string]any{"score": 1.0}},
			changed: true,
			expected: func(d Document) {
				d["score"] = 2.5
			},
		},
		{
			name:    "inc missing",
			update:  Document{"$inc": map[string]any{"visits": int64(1)}},
			changed: true,
			expected: func(d Document) {
				d["visits"] = int64(1)
			},
		},
		{
			name:    "push",
			update:  Document{"$push": map[string]any{"tags": "b"}},
			changed: true,
			expected: func(d Document) {
				d["tags"] = []any{"a", "b"}
			},
		},
		{
			name:    "push each",
			update:  Document{"$push": map[string]any{"tags": map[string]any{"$each": []any{"b", "c"}}}},
			changed: true,
			expected: func(d Document) {
				d["tags"] = []any{"a", "b", "c"}
			},
		},
		{
			name:    "min lowers",
			update:  Document{"$min": map[string]any{"age": int64(20)}},
			changed: true,
			expected: func(d Document) {
				d["age"] = int64(20)
			},
		},
		{
			name:     "max keeps",
			update:   Document{"$max": map[string]any{"age": int64(20)}},
			changed:  false,
			expected: func(Document) {},
		},
		{
			name:     "set identifier to itself",
			update:   Document{"$set": map[string]any{"_id": "u1"}},
			changed:  false,
			expected: func(Document) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newDoc()
			want := newDoc()
			tt.expected(want)

			changed, err := p.ApplyUpdate(doc, tt.update)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, want, doc)
		})
	}
}

func TestDataProcessor_ApplyUpdate_Errors(t *testing.T) {
	p := NewDataProcessor(nil)

	tests := []struct {
		name   string
		update Document
	}{
		{"empty", Document{}},
		{"replacement document", Document{"name": "Bea"}},
		{"mixed", Document{"$set": map[string]any{"a": int64(1)}, "name": "Bea"}},
		{"operand not an object", Document{"$set": "name"}},
		{"change identifier", Document{"$set": map[string]any{"_id": "u2"}}},
		{"unset identifier", Document{"$unset": map[string]any{"_id": ""}}},
		{"inc by string", Document{"$inc": map[string]any{"age": "1"}}},
		{"inc a string", Document{"$inc": map[string]any{"name": int64(1)}}},
		{"inc overflows float", Document{"$inc": map[string]any{"score": math.MaxFloat64}}},
		{"push to scalar", Document{"$push": map[string]any{"name": "x"}}},
		{"field inside scalar", Document{"$set": map[string]any{"name.first": "A"}}},
		{"array index out of range", Document{"$set": map[string]any{"tags.5": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Document{"_id": "u1", "name": "Ann", "age": int64(30), "score": math.MaxFloat64, "tags": []any{"a"}}
			_, err := p.ApplyUpdate(doc, tt.update)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidUpdate)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestDataProcessor_ApplyUpdate_IncOverflowsToFloat(t *testing.T) {
	p := NewDataProcessor(nil)
	doc := Document{"_id": "u1", "n": int64(math.MaxInt64)}

	changed, err := p.ApplyUpdate(doc, Document{"$inc": map[string]any{"n": int64(1)}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, float64(math.MaxInt64)+1, doc["n"])

	doc = Document{"_id": "u2", "n": int64(math.MinInt64)}
	_, err = p.ApplyUpdate(doc, Document{"$inc": map[string]any{"n": int64(-1)}})
	require.NoError(t, err)
	assert.IsType(t, float64(0), doc["n"])
}
