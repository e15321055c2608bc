package query

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/asaidimu/go-anansi-rest/utils"
)

// IDField is the reserved identifier field of every stored document.
const IDField = "_id"

// Projection is a compiled projection document.
type Projection struct {
	include bool
	keepID  bool
	paths   [][]string
}

// CompileProjection validates a projection document such as
// {"name": 1, "address": {"city": 1}} or {"secret": 0}.
//
// A projection either includes or excludes fields; the two cannot be mixed,
// except that "_id" may be excluded from an inclusion projection. "_id" is
// returned by inclusion projections unless excluded explicitly. A nil or
// empty projection returns documents unchanged.
func CompileProjection(projection Document) (*Projection, error) {
	if len(projection) == 0 {
		return nil, nil
	}

	flags := make(map[string]bool)
	if err := flattenProjection("", projection, flags); err != nil {
		return nil, err
	}

	idFlag, hasID := flags[IDField]
	delete(flags, IDField)

	var include, exclude [][]string
	for _, path := range slices.Sorted(maps.Keys(flags)) {
		if flags[path] {
			include = append(include, strings.Split(path, PathDelimiter))
		} else {
			exclude = append(exclude, strings.Split(path, PathDelimiter))
		}
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf("%w: cannot mix inclusion and exclusion", ErrInvalidProjection)
	}

	if len(include) > 0 || (hasID && idFlag) {
		return &Projection{include: true, keepID: !hasID || idFlag, paths: include}, nil
	}
	if hasID && !idFlag {
		exclude = append(exclude, []string{IDField})
	}
	return &Projection{paths: exclude}, nil
}

func flattenProjection(prefix string, projection Document, out map[string]bool) error {
	for key, value := range projection {
		path := key
		if prefix != "" {
			path = prefix + PathDelimiter + key
		}
		if sub, ok := value.(map[string]any); ok && len(sub) > 0 {
			if err := flattenProjection(path, sub, out); err != nil {
				return err
			}
			continue
		}
		switch v := value.(type) {
		case bool:
			out[path] = v
		default:
			f, ok := ToFloat64(value)
			if !ok {
				return fmt.Errorf("%w: %q must be 0, 1, true or false, got %v", ErrInvalidProjection, path, value)
			}
			out[path] = f != 0
		}
	}
	return nil
}

// Apply returns a projected copy of doc. A nil Projection copies the whole document.
func (p *Projection) Apply(doc Document) Document {
	if p == nil {
		return utils.CloneDocument(doc)
	}
	if !p.include {
		out := utils.CloneDocument(doc)
		for _, path := range p.paths {
			excludePath(out, path)
		}
		return out
	}

	out := Document{}
	if id, ok := doc[IDField]; ok && p.keepID {
		out[IDField] = utils.DeepCopy(id)
	}
	for _, path := range p.paths {
		includePath(doc, out, path)
	}
	return out
}

func includePath(src, dst map[string]any, segments []string) {
	value, ok := src[segments[0]]
	if !ok {
		return
	}
	if len(segments) == 1 {
		dst[segments[0]] = utils.DeepCopy(value)
		return
	}

	switch v := value.(type) {
	case map[string]any:
		child, _ := dst[segments[0]].(map[string]any)
		if child == nil {
			child = map[string]any{}
			dst[segments[0]] = child
		}
		includePath(v, child, segments[1:])
	case []any:
		// Embedded documents keep their order; scalars are dropped.
		items, _ := dst[segments[0]].([]any)
		if items == nil {
			items = []any{}
			for _, el := range v {
				if _, ok := el.(map[string]any); ok {
					items = append(items, map[string]any{})
				}
			}
			dst[segments[0]] = items
		}
		j := 0
		for _, el := range v {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if target, ok := items[j].(map[string]any); ok {
				includePath(m, target, segments[1:])
			}
			j++
		}
	}
}

func excludePath(m map[string]any, segments []string) {
	if len(segments) == 1 {
		delete(m, segments[0])
		return
	}
	switch v := m[segments[0]].(type) {
	case map[string]any:
		excludePath(v, segments[1:])
	case []any:
		for _, el := range v {
			if em, ok := el.(map[string]any); ok {
				excludePath(em, segments[1:])
			}
		}
	}
}
