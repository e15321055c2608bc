package query

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// PredicateFunction is a Go implementation of a custom selector operator.
// It receives the whole document, the dotted field path the operator was
// applied to, and the operator's argument.
type PredicateFunction func(ctx context.Context, doc Document, field string, args any) (bool, error)

// DataProcessor evaluates selectors, projections and update documents against
// in-memory documents. Backends without a native query engine use it to give
// the same results a document database would.
type DataProcessor struct {
	filterFunctions map[Operator]PredicateFunction
	mu              sync.RWMutex
	logger          *zap.Logger
}

// NewDataProcessor creates a new DataProcessor instance.
func NewDataProcessor(logger *zap.Logger) *DataProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataProcessor{
		filterFunctions: make(map[Operator]PredicateFunction),
		logger:          logger,
	}
}

// RegisterFilterFunction registers a Go function for a custom selector operator.
func (p *DataProcessor) RegisterFilterFunction(operator Operator, fn PredicateFunction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filterFunctions[operator] = fn
	p.logger.Info("Registered filter function", zap.String("operator", string(operator)))
}

// RegisterFilterFunctions registers multiple filter functions from a map.
func (p *DataProcessor) RegisterFilterFunctions(functionMap map[Operator]PredicateFunction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for operator, fn := range functionMap {
		p.filterFunctions[operator] = fn
		p.logger.Info("Registered filter function", zap.String("operator", string(operator)))
	}
}

// Match reports whether doc satisfies the selector. A nil or empty selector
// matches every document.
func (p *DataProcessor) Match(ctx context.Context, filter Document, doc Document) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matchSelector(ctx, doc, filter)
}

// Filter returns the documents matching the selector, preserving order.
func (p *DataProcessor) Filter(ctx context.Context, docs []Document, filter Document) ([]Document, error) {
	if len(filter) == 0 {
		return docs, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	matched := make([]Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := p.matchSelector(ctx, doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	p.logger.Debug("Documents remaining after filter", zap.Int("count", len(matched)))
	return matched, nil
}

// Project applies a projection to a single document. See CompileProjection.
func (p *DataProcessor) Project(doc Document, projection Document) (Document, error) {
	proj, err := CompileProjection(projection)
	if err != nil {
		return nil, err
	}
	return proj.Apply(doc), nil
}

func (p *DataProcessor) matchSelector(ctx context.Context, doc Document, selector Document) (bool, error) {
	for _, key := range slices.Sorted(maps.Keys(selector)) {
		cond := selector[key]

		var ok bool
		var err error
		switch op := Operator(key); op {
		case OperatorAnd, OperatorOr, OperatorNor:
			ok, err = p.matchLogical(ctx, doc, op, cond)
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("%w: %s cannot be used as a field selector", ErrUnsupportedOperator, key)
			}
			ok, err = p.matchField(ctx, doc, key, cond)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p *DataProcessor) matchLogical(ctx context.Context, doc Document, op Operator, cond any) (bool, error) {
	clauses, ok := cond.([]any)
	if !ok || len(clauses) == 0 {
		return false, fmt.Errorf("%w: %s requires a non-empty array of selectors", ErrInvalidSelector, op)
	}

	for _, clause := range clauses {
		sub, ok := clause.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%w: %s entries must be objects, got %T", ErrInvalidSelector, op, clause)
		}
		matched, err := p.matchSelector(ctx, doc, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == OperatorAnd && !matched:
			return false, nil
		case op == OperatorOr && matched:
			return true, nil
		case op == OperatorNor && matched:
			return false, nil
		}
	}
	return op != OperatorOr, nil
}

func (p *DataProcessor) matchField(ctx context.Context, doc Document, path string, cond any) (bool, error) {
	values := resolvePath(doc, strings.Split(path, PathDelimiter))

	ops, isExpr, err := operatorExpression(cond)
	if err != nil {
		return false, fmt.Errorf("field %q: %w", path, err)
	}
	if !isExpr {
		return matchEquality(values, cond), nil
	}
	return p.matchOperators(ctx, doc, path, values, ops)
}

// operatorExpression reports whether cond is an operator expression such as
// {"$gte": 30}. A mapping mixing operators and plain fields is rejected.
func operatorExpression(cond any) (Document, bool, error) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false, nil
	}
	operators := 0
	for k := range m {
		if strings.HasPrefix(k, "$") {
			operators++
		}
	}
	switch operators {
	case 0:
		return nil, false, nil
	case len(m):
		return m, true, nil
	default:
		return nil, false, fmt.Errorf("%w: operators and plain fields cannot be mixed", ErrInvalidSelector)
	}
}

func (p *DataProcessor) matchOperators(ctx context.Context, doc Document, path string, values []any, ops Document) (bool, error) {
	for _, key := range slices.Sorted(maps.Keys(ops)) {
		arg := ops[key]

		var ok bool
		var err error
		switch op := Operator(key); op {
		case OperatorEq:
			ok = matchEquality(values, arg)
		case OperatorNe:
			ok = !matchEquality(values, arg)
		case OperatorGt, OperatorGte, OperatorLt, OperatorLte:
			ok = matchOrder(values, op, arg)
		case OperatorIn, OperatorNin:
			list, isList := arg.([]any)
			if !isList {
				return false, fmt.Errorf("%w: %s requires an array, got %T", ErrInvalidSelector, op, arg)
			}
			ok = slices.ContainsFunc(list, func(candidate any) bool { return matchEquality(values, candidate) })
			if op == OperatorNin {
				ok = !ok
			}
		case OperatorExists:
			ok = truthy(arg) == (len(values) > 0)
		case OperatorRegex:
			ok, err = matchRegex(values, arg, ops["$options"])
		case "$options":
			if _, hasRegex := ops[string(OperatorRegex)]; !hasRegex {
				return false, fmt.Errorf("%w: $options requires $regex", ErrInvalidSelector)
			}
			ok = true
		case OperatorSize:
			n, isInt := ToInt64(arg)
			if !isInt {
				return false, fmt.Errorf("%w: $size requires an integer, got %v", ErrInvalidSelector, arg)
			}
			ok = slices.ContainsFunc(values, func(v any) bool {
				arr, isArr := v.([]any)
				return isArr && int64(len(arr)) == n
			})
		case OperatorNot:
			sub, isExpr, exprErr := operatorExpression(arg)
			if exprErr != nil || !isExpr {
				return false, fmt.Errorf("%w: $not requires an operator expression", ErrInvalidSelector)
			}
			ok, err = p.matchOperators(ctx, doc, path, values, sub)
			ok = !ok
		default:
			fn, registered := p.filterFunctions[op]
			if !registered {
				return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
			}
			ok, err = fn(ctx, doc, path, arg)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// resolvePath returns every value reachable at segments. Sequences are
// traversed element-wise unless the segment is a numeric index.
func resolvePath(value any, segments []string) []any {
	if len(segments) == 0 {
		return []any{value}
	}
	switch v := value.(type) {
	case map[string]any:
		child, ok := v[segments[0]]
		if !ok {
			return nil
		}
		return resolvePath(child, segments[1:])
	case []any:
		if isIndexSegment(segments[0]) {
			idx, _ := strconv.Atoi(segments[0])
			if idx < len(v) {
				return resolvePath(v[idx], segments[1:])
			}
			return nil
		}
		var out []any
		for _, item := range v {
			if _, ok := item.(map[string]any); ok {
				out = append(out, resolvePath(item, segments)...)
			}
		}
		return out
	}
	return nil
}

// candidates expands sequence values so operators match individual elements
// as well as the sequence itself.
func candidates(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
		}
	}
	return out
}

func matchEquality(values []any, target any) bool {
	if target == nil && len(values) == 0 {
		return true
	}
	return slices.ContainsFunc(candidates(values), func(v any) bool { return Equal(v, target) })
}

func matchOrder(values []any, op Operator, arg any) bool {
	return slices.ContainsFunc(candidates(values), func(v any) bool {
		c, ok := Compare(v, arg)
		if !ok {
			return false
		}
		switch op {
		case OperatorGt:
			return c > 0
		case OperatorGte:
			return c >= 0
		case OperatorLt:
			return c < 0
		default:
			return c <= 0
		}
	})
}

func matchRegex(values []any, pattern any, options any) (bool, error) {
	expr, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("%w: $regex requires a string, got %T", ErrInvalidSelector, pattern)
	}
	if flags, ok := options.(string); ok && flags != "" {
		for _, f := range flags {
			if !strings.ContainsRune("imsU", f) {
				return false, fmt.Errorf("%w: unsupported $options flag %q", ErrInvalidSelector, f)
			}
		}
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, fmt.Errorf("%w: $regex: %v", ErrInvalidSelector, err)
	}
	return slices.ContainsFunc(candidates(values), func(v any) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}), nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		if f, ok := ToFloat64(v); ok {
			return f != 0
		}
		return true
	}
}
