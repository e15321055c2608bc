package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperator_IsStandard(t *testing.T) {
	tests := []struct {
		operator Operator
		expected bool
	}{
		{OperatorEq, true},
		{OperatorNe, true},
		{OperatorGte, true},
		{OperatorIn, true},
		{OperatorRegex, true},
		{OperatorNot, true},
		{OperatorAnd, false},
		{OperatorSet, false},
		{"$near", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.operator), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.operator.IsStandard())
		})
	}
	assert.Len(t, GetStandardOperators(), 12)
}

func TestParseParams(t *testing.T) {
	t.Run("nil query", func(t *testing.T) {
		params, err := ParseParams(nil)
		require.NoError(t, err)
		assert.Equal(t, Document{}, params.Filter)
		assert.Nil(t, params.Projection)
		assert.Nil(t, params.Skip)
		assert.Nil(t, params.Limit)
	})

	t.Run("all parameters", func(t *testing.T) {
		params, err := ParseParams(Document{
			"q":       map[string]any{"age": map[string]any{"$gte": int64(30)}},
			"project": map[string]any{"name": int64(1)},
			"skip":    int64(5),
			"limit":   float64(10),
			"other":   "ignored",
		})
		require.NoError(t, err)
		assert.Equal(t, Document{"age": map[string]any{"$gte": int64(30)}}, params.Filter)
		assert.Equal(t, Document{"name": int64(1)}, params.Projection)
		require.NotNil(t, params.Skip)
		require.NotNil(t, params.Limit)
		assert.Equal(t, int64(5), *params.Skip)
		assert.Equal(t, int64(10), *params.Limit)
	})

	t.Run("zero pagination is unset", func(t *testing.T) {
		params, err := ParseParams(Document{"skip": int64(0), "limit": int64(0)})
		require.NoError(t, err)
		assert.Nil(t, params.Skip)
		assert.Nil(t, params.Limit)
	})

	t.Run("null parameters are unset", func(t *testing.T) {
		params, err := ParseParams(Document{"q": nil, "limit": nil})
		require.NoError(t, err)
		assert.Equal(t, Document{}, params.Filter)
		assert.Nil(t, params.Limit)
	})
}

func TestParseParams_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query Document
		param string
	}{
		{"scalar filter", Document{"q": int64(1)}, KeyFilter},
		{"sequence filter", Document{"q": []any{int64(1)}}, KeyFilter},
		{"string projection", Document{"project": "name"}, KeyProjection},
		{"negative skip", Document{"skip": int64(-1)}, KeySkip},
		{"fractional limit", Document{"limit": 2.5}, KeyLimit},
		{"string limit", Document{"limit": "10"}, KeyLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParams(tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameter)
			assert.True(t, IsClientError(err))

			var pErr *ParameterError
			require.ErrorAs(t, err, &pErr)
			assert.Equal(t, tt.param, pErr.Name)
		})
	}
}
