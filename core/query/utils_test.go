package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInt64Ptr(t *testing.T) {
	ptr := Int64Ptr(12345)
	assert.NotNil(t, ptr)
	assert.Equal(t, int64(12345), *ptr)
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
		success  bool
	}{
		{"int", 10, 10.0, true},
		{"int8", int8(20), 20.0, true},
		{"int16", int16(30), 30.0, true},
		{"int32", int32(40), 40.0, true},
		{"int64", int64(50), 50.0, true},
		{"uint64", uint64(55), 55.0, true},
		{"float32", float32(60.5), 60.5, true},
		{"float64", 70.5, 70.5, true},
		{"string", "100", 0.0, false},
		{"nil", nil, 0.0, false},
		{"unsupported_type", struct{}{}, 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.success, ok)
			if tt.success {
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
		success  bool
	}{
		{"int", 7, 7, true},
		{"int64", int64(-3), -3, true},
		{"whole float", 10.0, 10, true},
		{"fractional float", 2.5, 0, false},
		{"huge uint64", uint64(1 << 63), 0, false},
		{"string", "10", 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := ToInt64(tt.input)
			assert.Equal(t, tt.success, ok)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCompare(t *testing.T) {
	c, ok := Compare(int64(1), 2.5)
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare("b", "a")
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = Compare(false, true)
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare(int64(9007199254740993), int64(9007199254740992))
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Compare("1", int64(1))
	assert.False(t, ok)

	_, ok = Compare(nil, nil)
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal(int64(3), 3.0))
	assert.True(t, Equal(
		map[string]any{"a": []any{int64(1), "x"}},
		map[string]any{"a": []any{1.0, "x"}},
	))
	assert.False(t, Equal(nil, int64(0)))
	assert.False(t, Equal([]any{int64(1)}, []any{int64(1), int64(2)}))
	assert.False(t, Equal(map[string]any{"a": int64(1)}, map[string]any{"b": int64(1)}))
	assert.False(t, Equal("1", int64(1)))
}
