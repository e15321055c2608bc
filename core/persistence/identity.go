package persistence

import (
	"fmt"
	"strconv"

	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// IDKey returns a canonical string for an identifier value, so that equal
// identifiers (1 and 1.0 included) map to the same key. Stores without a
// native identifier index use it for uniqueness and lookups.
func IDKey(id any) (string, error) {
	switch v := id.(type) {
	case nil:
		return "", fmt.Errorf("document has no %s", IDField)
	case string:
		return "s:" + v, nil
	case bool:
		return "b:" + strconv.FormatBool(v), nil
	case map[string]any, []any:
		return "j:" + oj.JSON(v, &ojg.Options{Sort: true}), nil
	}
	if n, ok := query.ToInt64(id); ok {
		return "n:" + strconv.FormatInt(n, 10), nil
	}
	if f, ok := query.ToFloat64(id); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("unsupported %s type %T", IDField, id)
}

// IDFromFilter returns the identifier of a filter of the exact form
// {"_id": <scalar>}, which stores can answer with a key lookup.
func IDFromFilter(filter Document) (any, bool) {
	if len(filter) != 1 {
		return nil, false
	}
	id, ok := filter[IDField]
	if !ok {
		return nil, false
	}
	switch id.(type) {
	case nil, map[string]any, []any:
		return nil, false
	}
	return id, true
}
