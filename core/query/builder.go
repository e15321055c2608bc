package query

import "github.com/asaidimu/go-anansi-rest/utils"

// QueryBuilder provides a fluent API for building read parameters: a selector,
// a projection and pagination. It is what server-side callers use instead of
// hand-assembling nested selector documents.
type QueryBuilder struct {
	fields     []string
	conditions map[string][]condition
	logical    map[Operator][]any
	projection Document
	skip       *int64
	limit      *int64
}

type condition struct {
	operator Operator
	value    any
}

// NewQueryBuilder creates a new, empty query builder instance.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		conditions: make(map[string][]condition),
		logical:    make(map[Operator][]any),
	}
}

// Build returns the constructed read parameters.
func (qb *QueryBuilder) Build() Params {
	return Params{
		Filter:     qb.Selector(),
		Projection: utils.CloneDocument(qb.projection),
		Skip:       qb.skip,
		Limit:      qb.limit,
	}
}

// Selector returns only the selector document. Conditions on the same field
// are merged into one operator expression; a lone equality is written as a
// plain value so backends can recognise identifier lookups.
func (qb *QueryBuilder) Selector() Document {
	selector := Document{}
	for _, field := range qb.fields {
		conds := qb.conditions[field]
		if len(conds) == 1 && conds[0].operator == OperatorEq {
			if _, isExpr, _ := operatorExpression(conds[0].value); !isExpr {
				selector[field] = utils.DeepCopy(conds[0].value)
				continue
			}
		}
		expr := Document{}
		for _, c := range conds {
			expr[string(c.operator)] = utils.DeepCopy(c.value)
		}
		selector[field] = expr
	}
	for op, clauses := range qb.logical {
		selector[string(op)] = utils.DeepCopy(clauses)
	}
	return selector
}

// Clone creates a deep copy of the builder, so derived queries do not affect
// the original.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	clone := NewQueryBuilder()
	clone.fields = append(clone.fields, qb.fields...)
	for field, conds := range qb.conditions {
		clone.conditions[field] = append([]condition(nil), conds...)
	}
	for op, clauses := range qb.logical {
		clone.logical[op] = utils.DeepCopy(clauses).([]any)
	}
	clone.projection = utils.CloneDocument(qb.projection)
	if qb.skip != nil {
		clone.skip = Int64Ptr(*qb.skip)
	}
	if qb.limit != nil {
		clone.limit = Int64Ptr(*qb.limit)
	}
	return clone
}

// Reset clears all configuration, returning the builder to its initial state.
func (qb *QueryBuilder) Reset() *QueryBuilder {
	*qb = *NewQueryBuilder()
	return qb
}

// Where begins a condition on a dotted field path.
func (qb *QueryBuilder) Where(field string) *FilterConditionBuilder {
	return &FilterConditionBuilder{parent: qb, field: field}
}

// WhereGroup begins a group of selectors combined with $and, $or or $nor.
func (qb *QueryBuilder) WhereGroup(operator Operator) *FilterGroupBuilder {
	return &FilterGroupBuilder{parent: qb, operator: operator}
}

// Include adds fields to an inclusion projection.
func (qb *QueryBuilder) Include(fields ...string) *QueryBuilder {
	return qb.project(int64(1), fields)
}

// Exclude adds fields to an exclusion projection. Excluding IDField is the
// only exclusion allowed alongside Include.
func (qb *QueryBuilder) Exclude(fields ...string) *QueryBuilder {
	return qb.project(int64(0), fields)
}

func (qb *QueryBuilder) project(flag int64, fields []string) *QueryBuilder {
	if qb.projection == nil {
		qb.projection = Document{}
	}
	for _, f := range fields {
		qb.projection[f] = flag
	}
	return qb
}

// Skip sets the number of matching documents to skip. Zero clears it.
func (qb *QueryBuilder) Skip(n int64) *QueryBuilder {
	qb.skip = nil
	if n > 0 {
		qb.skip = Int64Ptr(n)
	}
	return qb
}

// Limit caps the number of documents returned. Zero clears it.
func (qb *QueryBuilder) Limit(n int64) *QueryBuilder {
	qb.limit = nil
	if n > 0 {
		qb.limit = Int64Ptr(n)
	}
	return qb
}

// FilterConditionBuilder builds a single field condition.
type FilterConditionBuilder struct {
	parent *QueryBuilder
	field  string
}

// Eq adds an equality condition to the query.
func (fcb *FilterConditionBuilder) Eq(value any) *QueryBuilder {
	return fcb.addCondition(OperatorEq, value)
}

// Ne adds a not-equal condition to the query.
func (fcb *FilterConditionBuilder) Ne(value any) *QueryBuilder {
	return fcb.addCondition(OperatorNe, value)
}

// Lt adds a less-than condition to the query.
func (fcb *FilterConditionBuilder) Lt(value any) *QueryBuilder {
	return fcb.addCondition(OperatorLt, value)
}

// Lte adds a less-than-or-equal condition to the query.
func (fcb *FilterConditionBuilder) Lte(value any) *QueryBuilder {
	return fcb.addCondition(OperatorLte, value)
}

// Gt adds a greater-than condition to the query.
func (fcb *FilterConditionBuilder) Gt(value any) *QueryBuilder {
	return fcb.addCondition(OperatorGt, value)
}

// Gte adds a greater-than-or-equal condition to the query.
func (fcb *FilterConditionBuilder) Gte(value any) *QueryBuilder {
	return fcb.addCondition(OperatorGte, value)
}

// In adds a condition matching any of the given values.
func (fcb *FilterConditionBuilder) In(values ...any) *QueryBuilder {
	return fcb.addCondition(OperatorIn, append([]any{}, values...))
}

// Nin adds a condition matching none of the given values.
func (fcb *FilterConditionBuilder) Nin(values ...any) *QueryBuilder {
	return fcb.addCondition(OperatorNin, append([]any{}, values...))
}

// Exists adds a condition on the presence of the field.
func (fcb *FilterConditionBuilder) Exists(exists bool) *QueryBuilder {
	return fcb.addCondition(OperatorExists, exists)
}

// Regex adds a regular expression condition on a string field.
func (fcb *FilterConditionBuilder) Regex(pattern string) *QueryBuilder {
	return fcb.addCondition(OperatorRegex, pattern)
}

// Size adds a condition on the length of a sequence field.
func (fcb *FilterConditionBuilder) Size(n int64) *QueryBuilder {
	return fcb.addCondition(OperatorSize, n)
}

// Custom allows for the use of a registered custom operator.
func (fcb *FilterConditionBuilder) Custom(operator Operator, value any) *QueryBuilder {
	return fcb.addCondition(operator, value)
}

func (fcb *FilterConditionBuilder) addCondition(operator Operator, value any) *QueryBuilder {
	qb := fcb.parent
	if _, seen := qb.conditions[fcb.field]; !seen {
		qb.fields = append(qb.fields, fcb.field)
	}
	qb.conditions[fcb.field] = append(qb.conditions[fcb.field], condition{operator: operator, value: value})
	return qb
}

// FilterGroupBuilder collects selectors for a logical group.
type FilterGroupBuilder struct {
	parent   *QueryBuilder
	operator Operator
	clauses  []any
}

// Where adds a single-field clause to the group.
func (fgb *FilterGroupBuilder) Where(field string, build func(*FilterConditionBuilder) *QueryBuilder) *FilterGroupBuilder {
	sub := NewQueryBuilder()
	build(sub.Where(field))
	return fgb.Add(sub.Selector())
}

// Add appends a complete selector to the group.
func (fgb *FilterGroupBuilder) Add(selector Document) *FilterGroupBuilder {
	fgb.clauses = append(fgb.clauses, map[string]any(selector))
	return fgb
}

// End finalizes the group and returns to the main query builder.
func (fgb *FilterGroupBuilder) End() *QueryBuilder {
	if len(fgb.clauses) > 0 {
		fgb.parent.logical[fgb.operator] = append(fgb.parent.logical[fgb.operator], fgb.clauses...)
	}
	return fgb.parent
}

// UpdateBuilder builds update documents.
type UpdateBuilder struct {
	update Document
}

// NewUpdateBuilder creates an empty update builder.
func NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{update: Document{}}
}

// Set assigns a value to a dotted field path.
func (ub *UpdateBuilder) Set(field string, value any) *UpdateBuilder {
	return ub.add(OperatorSet, field, value)
}

// Unset removes a field.
func (ub *UpdateBuilder) Unset(field string) *UpdateBuilder {
	return ub.add(OperatorUnset, field, "")
}

// Inc increments a numeric field.
func (ub *UpdateBuilder) Inc(field string, by any) *UpdateBuilder {
	return ub.add(OperatorInc, field, by)
}

// Push appends a value to a sequence field.
func (ub *UpdateBuilder) Push(field string, value any) *UpdateBuilder {
	return ub.add(OperatorPush, field, value)
}

// Min lowers a field to value if value is smaller.
func (ub *UpdateBuilder) Min(field string, value any) *UpdateBuilder {
	return ub.add(OperatorMin, field, value)
}

// Max raises a field to value if value is larger.
func (ub *UpdateBuilder) Max(field string, value any) *UpdateBuilder {
	return ub.add(OperatorMax, field, value)
}

func (ub *UpdateBuilder) add(op Operator, field string, value any) *UpdateBuilder {
	fields, _ := ub.update[string(op)].(map[string]any)
	if fields == nil {
		fields = map[string]any{}
		ub.update[string(op)] = fields
	}
	fields[field] = value
	return ub
}

// Build returns a copy of the update document.
func (ub *UpdateBuilder) Build() Document {
	return utils.CloneDocument(ub.update)
}
