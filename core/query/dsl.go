// Package query defines the document query language shared by the REST layer and
// the store backends: the raw key-path query string, the nested selector documents
// it normalizes into, and the read parameters (filter, projection, pagination)
// interpreted from them.
package query

import (
	"fmt"
)

// Document is a schema-less JSON-like value: a mapping of field names to
// strings, numbers, booleans, nil, nested mappings or sequences.
type Document = map[string]any

// RawQuery is a flat mapping of key paths (e.g. "q.age.$gte") to JSON-encoded
// literal values, as found in a request query string.
type RawQuery = map[string]string

// Operator is a selector, projection or update operator such as "$gte" or "$set".
type Operator string

// Logical operators combining selectors.
const (
	OperatorAnd Operator = "$and"
	OperatorOr  Operator = "$or"
	OperatorNor Operator = "$nor"
)

// Field comparison operators.
const (
	OperatorEq     Operator = "$eq"
	OperatorNe     Operator = "$ne"
	OperatorGt     Operator = "$gt"
	OperatorGte    Operator = "$gte"
	OperatorLt     Operator = "$lt"
	OperatorLte    Operator = "$lte"
	OperatorIn     Operator = "$in"
	OperatorNin    Operator = "$nin"
	OperatorExists Operator = "$exists"
	OperatorRegex  Operator = "$regex"
	OperatorSize   Operator = "$size"
	OperatorNot    Operator = "$not"
)

// Update operators.
const (
	OperatorSet   Operator = "$set"
	OperatorUnset Operator = "$unset"
	OperatorInc   Operator = "$inc"
	OperatorPush  Operator = "$push"
	OperatorMin   Operator = "$min"
	OperatorMax   Operator = "$max"
)

// Top-level keys of a normalized query that carry read semantics.
const (
	KeyFilter     = "q"
	KeyProjection = "project"
	KeySkip       = "skip"
	KeyLimit      = "limit"
)

// standardOperators is the set of built-in field comparison operators.
var standardOperators = map[Operator]struct{}{
	OperatorEq:     {},
	OperatorNe:     {},
	OperatorGt:     {},
	OperatorGte:    {},
	OperatorLt:     {},
	OperatorLte:    {},
	OperatorIn:     {},
	OperatorNin:    {},
	OperatorExists: {},
	OperatorRegex:  {},
	OperatorSize:   {},
	OperatorNot:    {},
}

// IsStandard reports whether the operator is one of the built-in field operators.
func (o Operator) IsStandard() bool {
	_, ok := standardOperators[o]
	return ok
}

// GetStandardOperators returns the built-in field comparison operators.
func GetStandardOperators() map[Operator]struct{} {
	return standardOperators
}

// Params holds the read parameters carried by a normalized query.
// A nil Skip or Limit means the store default (no offset, no cap).
type Params struct {
	Filter     Document `json:"q,omitempty"`
	Projection Document `json:"project,omitempty"`
	Skip       *int64   `json:"skip,omitempty"`
	Limit      *int64   `json:"limit,omitempty"`
}

// ParseParams interprets the recognised top-level keys of a normalized query.
// Unrecognised keys are ignored. A zero skip or limit is treated as unset.
func ParseParams(normalized Document) (*Params, error) {
	params := &Params{Filter: Document{}}
	if normalized == nil {
		return params, nil
	}

	if raw, ok := normalized[KeyFilter]; ok && raw != nil {
		filter, ok := raw.(map[string]any)
		if !ok {
			return nil, &ParameterError{Name: KeyFilter, Reason: fmt.Sprintf("expected an object, got %T", raw)}
		}
		params.Filter = filter
	}

	if raw, ok := normalized[KeyProjection]; ok && raw != nil {
		projection, ok := raw.(map[string]any)
		if !ok {
			return nil, &ParameterError{Name: KeyProjection, Reason: fmt.Sprintf("expected an object, got %T", raw)}
		}
		params.Projection = projection
	}

	skip, err := paginationValue(normalized, KeySkip)
	if err != nil {
		return nil, err
	}
	params.Skip = skip

	limit, err := paginationValue(normalized, KeyLimit)
	if err != nil {
		return nil, err
	}
	params.Limit = limit

	return params, nil
}

func paginationValue(normalized Document, key string) (*int64, error) {
	raw, ok := normalized[key]
	if !ok || raw == nil {
		return nil, nil
	}
	n, ok := ToInt64(raw)
	if !ok {
		return nil, &ParameterError{Name: key, Reason: fmt.Sprintf("expected an integer, got %v", raw)}
	}
	if n < 0 {
		return nil, &ParameterError{Name: key, Reason: "must not be negative"}
	}
	if n == 0 {
		return nil, nil
	}
	return &n, nil
}
