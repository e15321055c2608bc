package query

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/asaidimu/go-anansi-rest/utils"
)

var updateOperators = map[Operator]struct{}{
	OperatorSet:   {},
	OperatorUnset: {},
	OperatorInc:   {},
	OperatorPush:  {},
	OperatorMin:   {},
	OperatorMax:   {},
}

// ValidateUpdate checks that an update document only holds update operators,
// each with an object of field paths as its operand.
func ValidateUpdate(update Document) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: update document is empty", ErrInvalidUpdate)
	}
	for key, fields := range update {
		if _, ok := updateOperators[Operator(key)]; !ok {
			return fmt.Errorf("%w: %q is not an update operator", ErrInvalidUpdate, key)
		}
		if _, ok := fields.(map[string]any); !ok {
			return fmt.Errorf("%w: %s requires an object, got %T", ErrInvalidUpdate, key, fields)
		}
	}
	return nil
}

// ApplyUpdate applies an update document in place and reports whether doc
// changed. On error doc may be partially updated; callers apply updates to a
// copy.
func (p *DataProcessor) ApplyUpdate(doc Document, update Document) (bool, error) {
	if err := ValidateUpdate(update); err != nil {
		return false, err
	}

	changed := false
	for _, key := range slices.Sorted(maps.Keys(update)) {
		op := Operator(key)
		fields := update[key].(map[string]any)
		for _, path := range slices.Sorted(maps.Keys(fields)) {
			segments := strings.Split(path, PathDelimiter)
			if slices.Contains(segments, "") {
				return false, fmt.Errorf("%w: empty segment in %q", ErrInvalidUpdate, path)
			}
			c, err := applyOperator(doc, op, segments, fields[path])
			if err != nil {
				return false, fmt.Errorf("%s %q: %w", op, path, err)
			}
			changed = changed || c
		}
	}
	return changed, nil
}

func applyOperator(doc Document, op Operator, segments []string, arg any) (bool, error) {
	if segments[0] == IDField {
		current, exists := doc[IDField]
		if op != OperatorSet || len(segments) != 1 || !exists || !Equal(current, arg) {
			return false, fmt.Errorf("%w: the %s field cannot be modified", ErrInvalidUpdate, IDField)
		}
		return false, nil
	}

	if op == OperatorUnset {
		loc, found, err := locate(doc, segments, false)
		if err != nil || !found {
			return false, err
		}
		return loc.remove(), nil
	}

	loc, _, err := locate(doc, segments, true)
	if err != nil {
		return false, err
	}
	current, exists := loc.get()

	switch op {
	case OperatorSet:
		if exists && Equal(current, arg) {
			return false, nil
		}
		loc.set(utils.DeepCopy(arg))
		return true, nil

	case OperatorInc:
		if _, ok := ToFloat64(arg); !ok {
			return false, fmt.Errorf("%w: cannot increment by non-numeric %v", ErrInvalidUpdate, arg)
		}
		if !exists || current == nil {
			loc.set(arg)
			return true, nil
		}
		sum, ok := addNumbers(current, arg)
		if !ok {
			return false, fmt.Errorf("%w: cannot increment non-numeric value %v", ErrInvalidUpdate, current)
		}
		if f, isFloat := sum.(float64); isFloat && math.IsInf(f, 0) {
			return false, fmt.Errorf("%w: incrementing %v by %v overflows", ErrInvalidUpdate, current, arg)
		}
		loc.set(sum)
		return !Equal(current, sum), nil

	case OperatorMin, OperatorMax:
		if !exists {
			loc.set(utils.DeepCopy(arg))
			return true, nil
		}
		c, ok := Compare(arg, current)
		if !ok {
			return false, fmt.Errorf("%w: cannot compare %v with %v", ErrInvalidUpdate, arg, current)
		}
		if (op == OperatorMin && c < 0) || (op == OperatorMax && c > 0) {
			loc.set(arg)
			return true, nil
		}
		return false, nil

	case OperatorPush:
		items := []any{arg}
		if each, ok := arg.(map[string]any); ok {
			if list, ok := each["$each"].([]any); ok && len(each) == 1 {
				items = list
			}
		}
		if !exists || current == nil {
			loc.set(utils.DeepCopy(items))
			return true, nil
		}
		arr, ok := current.([]any)
		if !ok {
			return false, fmt.Errorf("%w: cannot push to non-array value %v", ErrInvalidUpdate, current)
		}
		loc.set(append(slices.Clone(arr), utils.DeepCopy(items).([]any)...))
		return len(items) > 0, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
}

func addNumbers(a, b any) (any, bool) {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		if sum := ai + bi; (sum > ai) == (bi > 0) {
			return sum, true
		}
	}
	af, ok := ToFloat64(a)
	if !ok {
		return nil, false
	}
	bf, _ := ToFloat64(b)
	return af + bf, true
}

// location addresses a single field or sequence element inside a document.
type location struct {
	m   map[string]any
	s   []any
	key string
	idx int
}

func (l location) get() (any, bool) {
	if l.m != nil {
		v, ok := l.m[l.key]
		return v, ok
	}
	return l.s[l.idx], true
}

func (l location) set(v any) {
	if l.m != nil {
		l.m[l.key] = v
		return
	}
	l.s[l.idx] = v
}

// remove deletes a field, or nulls out a sequence element.
func (l location) remove() bool {
	if l.m != nil {
		_, ok := l.m[l.key]
		delete(l.m, l.key)
		return ok
	}
	changed := l.s[l.idx] != nil
	l.s[l.idx] = nil
	return changed
}

// locate walks to the parent of the last segment. With create set, missing or
// null intermediate fields become empty mappings; sequences are never grown.
func locate(doc Document, segments []string, create bool) (location, bool, error) {
	var current any = doc
	for i, segment := range segments[:len(segments)-1] {
		switch c := current.(type) {
		case map[string]any:
			next := c[segment]
			if next == nil {
				if !create {
					return location{}, false, nil
				}
				next = map[string]any{}
				c[segment] = next
			}
			current = next
		case []any:
			idx, ok := sequenceIndex(segment, len(c))
			if !ok {
				if !create {
					return location{}, false, nil
				}
				return location{}, false, fmt.Errorf("%w: %q is not a valid index into %q", ErrInvalidUpdate, segment, strings.Join(segments[:i], PathDelimiter))
			}
			if c[idx] == nil && create {
				c[idx] = map[string]any{}
			}
			current = c[idx]
		default:
			if !create {
				return location{}, false, nil
			}
			return location{}, false, fmt.Errorf("%w: cannot create field %q inside %v", ErrInvalidUpdate, segment, current)
		}
	}

	last := segments[len(segments)-1]
	switch c := current.(type) {
	case map[string]any:
		return location{m: c, key: last}, true, nil
	case []any:
		idx, ok := sequenceIndex(last, len(c))
		if !ok {
			if !create {
				return location{}, false, nil
			}
			return location{}, false, fmt.Errorf("%w: %q is not a valid index", ErrInvalidUpdate, last)
		}
		return location{s: c, idx: idx}, true, nil
	default:
		if !create {
			return location{}, false, nil
		}
		return location{}, false, fmt.Errorf("%w: cannot create field %q inside %v", ErrInvalidUpdate, last, current)
	}
}

func sequenceIndex(segment string, length int) (int, bool) {
	if !isIndexSegment(segment) {
		return 0, false
	}
	idx, err := strconv.Atoi(segment)
	if err != nil || idx >= length {
		return 0, false
	}
	return idx, true
}
