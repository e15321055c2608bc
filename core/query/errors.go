package query

import (
	"errors"
	"fmt"
)

// Client-input errors raised while normalizing and interpreting a query string.
var (
	// ErrMalformedValue is returned when a query value is not a JSON literal.
	ErrMalformedValue = errors.New("malformed query value")

	// ErrConflictingKeyPath is returned when two key paths disagree on the kind
	// of container (mapping or sequence) at a shared position.
	ErrConflictingKeyPath = errors.New("conflicting key path")

	// ErrInvalidKeyPath is returned for key paths that cannot address a position,
	// such as empty segments or out-of-range sequence indexes.
	ErrInvalidKeyPath = errors.New("invalid key path")

	// ErrInvalidParameter is returned when a recognised read parameter has the wrong shape.
	ErrInvalidParameter = errors.New("invalid query parameter")

	// ErrUnsupportedOperator is returned when a selector uses an operator that
	// is neither built in nor registered.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrInvalidSelector is returned for selectors whose operands have the wrong shape.
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrInvalidProjection is returned for projections that mix inclusion and
	// exclusion or use non-boolean flags.
	ErrInvalidProjection = errors.New("invalid projection")

	// ErrInvalidUpdate is returned for update documents that carry no update
	// operators or try to change a document's identifier.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrUnrepresentableValue is returned for values with no faithful JSON
	// form, such as infinite numbers or strings that are not valid UTF-8.
	ErrUnrepresentableValue = errors.New("value has no JSON representation")
)

// KeyPathError describes why a single query parameter was rejected.
type KeyPathError struct {
	Key    string // The raw parameter name.
	Kind   error  // One of ErrMalformedValue, ErrConflictingKeyPath or ErrInvalidKeyPath.
	Reason string
	Err    error // Underlying parse error, if any.
}

func (e *KeyPathError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %s: %v", e.Kind, e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %q: %s", e.Kind, e.Key, e.Reason)
}

func (e *KeyPathError) Is(target error) bool {
	return target == e.Kind
}

func (e *KeyPathError) Unwrap() error {
	return e.Err
}

// ParameterError is returned by ParseParams.
type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidParameter, e.Name, e.Reason)
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// IsClientError reports whether err was caused by the caller's query input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedValue) ||
		errors.Is(err, ErrConflictingKeyPath) ||
		errors.Is(err, ErrInvalidKeyPath) ||
		errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrUnsupportedOperator) ||
		errors.Is(err, ErrInvalidSelector) ||
		errors.Is(err, ErrInvalidProjection) ||
		errors.Is(err, ErrInvalidUpdate) ||
		errors.Is(err, ErrUnrepresentableValue)
}
