package query

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

const (
	// PathDelimiter separates key-path segments.
	PathDelimiter = "."

	// MaxSequenceIndex caps numeric segments so a single parameter cannot
	// allocate an arbitrarily large sequence.
	MaxSequenceIndex = 1000
)

type nodeKind int

const (
	leafNode nodeKind = iota
	mappingNode
	sequenceNode
)

func (k nodeKind) String() string {
	switch k {
	case mappingNode:
		return "mapping"
	case sequenceNode:
		return "sequence"
	default:
		return "value"
	}
}

// node is a position in the structure being built. Leaves hold decoded values,
// containers hold children; a nil child in a sequence is an unassigned slot.
type node struct {
	kind   nodeKind
	fields map[string]*node
	items  []*node
	value  any
}

func newContainer(kind nodeKind) *node {
	n := &node{kind: kind}
	if kind == mappingNode {
		n.fields = make(map[string]*node)
	}
	return n
}

func (n *node) get(segment string) *node {
	if n.kind == mappingNode {
		return n.fields[segment]
	}
	idx, _ := strconv.Atoi(segment)
	if idx < len(n.items) {
		return n.items[idx]
	}
	return nil
}

func (n *node) put(segment string, child *node) {
	if n.kind == mappingNode {
		n.fields[segment] = child
		return
	}
	idx, _ := strconv.Atoi(segment)
	for len(n.items) <= idx {
		n.items = append(n.items, nil)
	}
	n.items[idx] = child
}

func (n *node) build() any {
	switch n.kind {
	case mappingNode:
		out := make(map[string]any, len(n.fields))
		for k, child := range n.fields {
			out[k] = child.build()
		}
		return out
	case sequenceNode:
		out := make([]any, len(n.items))
		for i, child := range n.items {
			if child != nil {
				out[i] = child.build()
			}
		}
		return out
	default:
		return n.value
	}
}

// Normalize turns a flat mapping of key paths to JSON literals into a nested
// Document. The result does not depend on the iteration order of raw; any
// malformed value or structurally incompatible pair of key paths fails the
// whole call. A nil or empty raw query yields an empty Document.
func Normalize(raw RawQuery) (Document, error) {
	root := newContainer(mappingNode)

	for _, key := range slices.Sorted(maps.Keys(raw)) {
		value, err := parseValue(key, raw[key])
		if err != nil {
			return nil, err
		}
		segments, err := SplitKeyPath(key)
		if err != nil {
			return nil, err
		}
		if err := assign(root, key, segments, value); err != nil {
			return nil, err
		}
	}

	return root.build().(map[string]any), nil
}

func parseValue(key, raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &KeyPathError{Key: key, Kind: ErrMalformedValue, Reason: "empty value"}
	}
	value, err := oj.ParseString(raw, ojg.NumConvFloat64)
	if err != nil {
		return nil, &KeyPathError{Key: key, Kind: ErrMalformedValue, Reason: "value is not a JSON literal", Err: err}
	}
	if err := CheckValue(value); err != nil {
		return nil, &KeyPathError{Key: key, Kind: ErrMalformedValue, Reason: "value cannot be represented", Err: err}
	}
	return value, nil
}

// assign walks segments from root, creating containers whose kind is decided
// by the segment that indexes into them, and stores value at the final one.
func assign(root *node, key string, segments []string, value any) error {
	current := root
	for i, segment := range segments {
		existing := current.get(segment)
		position := strings.Join(segments[:i+1], PathDelimiter)

		if i == len(segments)-1 {
			if existing != nil {
				return &KeyPathError{
					Key:    key,
					Kind:   ErrConflictingKeyPath,
					Reason: fmt.Sprintf("%q already holds a %s", position, existing.kind),
				}
			}
			current.put(segment, &node{kind: leafNode, value: value})
			return nil
		}

		want := mappingNode
		if isIndexSegment(segments[i+1]) {
			want = sequenceNode
		}
		if existing == nil {
			existing = newContainer(want)
			current.put(segment, existing)
		} else if existing.kind != want {
			return &KeyPathError{
				Key:    key,
				Kind:   ErrConflictingKeyPath,
				Reason: fmt.Sprintf("%q is used as a %s and as a %s", position, existing.kind, want),
			}
		}
		current = existing
	}
	return nil
}

// SplitKeyPath splits a key path into segments. Both "a.b.0" and the bracket
// spelling "a[b][0]" (or any mix of the two) are accepted.
func SplitKeyPath(key string) ([]string, error) {
	invalid := func(reason string) error {
		return &KeyPathError{Key: key, Kind: ErrInvalidKeyPath, Reason: reason}
	}
	if key == "" {
		return nil, invalid("empty key")
	}

	var segments []string
	var current strings.Builder
	closed := false // the previous segment ended with ']'

	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '.':
			if current.Len() == 0 && !closed {
				return nil, invalid("empty segment")
			}
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			if i == len(key)-1 {
				return nil, invalid("empty segment")
			}
			closed = false
			if key[i+1] == '[' {
				return nil, invalid("empty segment")
			}
		case '[':
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			} else if len(segments) == 0 {
				return nil, invalid("key path starts with '['")
			}
			end := strings.IndexByte(key[i+1:], ']')
			if end < 0 {
				return nil, invalid("unterminated '['")
			}
			if end == 0 {
				return nil, invalid("empty segment")
			}
			segments = append(segments, key[i+1:i+1+end])
			i += end + 1
			closed = true
		default:
			if closed {
				return nil, invalid("expected '.' or '[' after ']'")
			}
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}

	for _, segment := range segments[1:] {
		if !isIndexSegment(segment) {
			continue
		}
		if idx, err := strconv.Atoi(segment); err != nil || idx > MaxSequenceIndex {
			return nil, invalid(fmt.Sprintf("sequence index %s exceeds %d", segment, MaxSequenceIndex))
		}
	}
	return segments, nil
}

// isIndexSegment reports whether a segment addresses a sequence position.
func isIndexSegment(segment string) bool {
	if segment == "" {
		return false
	}
	for i := 0; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return false
		}
	}
	return true
}

// Encode flattens a Document into key paths with JSON-encoded leaves, the
// inverse of Normalize. Empty containers are encoded as "{}" or "[]" leaves.
func Encode(doc Document) (RawQuery, error) {
	out := RawQuery{}
	for key, value := range doc {
		if !isAddressableField(key) {
			return nil, &KeyPathError{Key: key, Kind: ErrInvalidKeyPath, Reason: fmt.Sprintf("field %q cannot be expressed as a key path", key)}
		}
		if err := encodeInto(out, key, value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeInto(out RawQuery, prefix string, value any) error {
	switch v := value.(type) {
	case map[string]any:
		if len(v) > 0 {
			for key, child := range v {
				if !isAddressableField(key) {
					return &KeyPathError{Key: prefix, Kind: ErrInvalidKeyPath, Reason: fmt.Sprintf("field %q cannot be expressed as a key path", key)}
				}
				if err := encodeInto(out, prefix+PathDelimiter+key, child); err != nil {
					return err
				}
			}
			return nil
		}
	case []any:
		if len(v) > 0 {
			for i, child := range v {
				if err := encodeInto(out, prefix+PathDelimiter+strconv.Itoa(i), child); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if err := CheckValue(value); err != nil {
		return &KeyPathError{Key: prefix, Kind: ErrMalformedValue, Reason: "value cannot be represented", Err: err}
	}
	out[prefix] = oj.JSON(value)
	return nil
}

func isAddressableField(key string) bool {
	return key != "" && !strings.ContainsAny(key, ".[]")
}
