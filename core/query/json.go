package query

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// ParseJSON decodes a JSON text into plain Go values. Integers that fit an
// int64 decode as int64, every other number as float64. Values rejected by
// CheckValue are an error.
func ParseJSON(data []byte) (any, error) {
	value, err := oj.Parse(data, ojg.NumConvFloat64)
	if err != nil {
		return nil, err
	}
	if err := CheckValue(value); err != nil {
		return nil, err
	}
	return value, nil
}

// CheckValue reports the first value inside v that JSON cannot represent
// faithfully: a NaN or infinite number, or a string or field name that is not
// valid UTF-8.
func CheckValue(v any) error {
	return checkValue("$", v)
}

func checkValue(path string, v any) error {
	switch val := v.(type) {
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return fmt.Errorf("%w: %s is %v", ErrUnrepresentableValue, path, val)
		}
	case float32:
		return checkValue(path, float64(val))
	case string:
		if !utf8.ValidString(val) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrUnrepresentableValue, path)
		}
	case map[string]any:
		for key, child := range val {
			if !utf8.ValidString(key) {
				return fmt.Errorf("%w: field name %q under %s is not valid UTF-8", ErrUnrepresentableValue, key, path)
			}
			if err := checkValue(path+PathDelimiter+key, child); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range val {
			if err := checkValue(fmt.Sprintf("%s[%d]", path, i), child); err != nil {
				return err
			}
		}
	}
	return nil
}
