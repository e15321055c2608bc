// Package utils holds small value helpers shared by the store backends and the
// collection mapper.
package utils

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// DeepCopy returns a copy of a JSON-like value in which every nested mapping
// and sequence is freshly allocated. Scalars are returned as is.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CloneDocument(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return v
	}
}

// CloneDocument deep-copies a document. A nil document stays nil.
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = DeepCopy(v)
	}
	return out
}

// StructToMap converts a struct (or pointer to struct) into a map[string]any
// keyed by its JSON field names.
//
// The input is marshaled with encoding/json, so `json:"..."` tags and
// omitempty are honoured, and nested structs come back as nested maps.
// Integers decode as int64.
func StructToMap[T any](record T) (map[string]any, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("StructToMap: failed to marshal input record to JSON: %w", err)
	}
	decoded, err := oj.Parse(raw, ojg.NumConvFloat64)
	if err != nil {
		return nil, fmt.Errorf("StructToMap: failed to parse marshaled record: %w", err)
	}
	out, _ := decoded.(map[string]any)
	return out, nil
}
