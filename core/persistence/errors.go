package persistence

import (
	"errors"
	"fmt"

	"github.com/asaidimu/go-anansi-rest/core/query"
)

var (
	// ErrInvalidBody is returned when a request body has the wrong shape for
	// the operation, e.g. an insert body that is neither an object nor an array
	// of objects.
	ErrInvalidBody = errors.New("invalid body")

	// ErrInvalidCollectionName is returned when a logical collection name
	// contains no letters or digits.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDuplicateKey is returned by stores when an identifier is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
)

// DuplicateKeyError reports an identifier collision in a collection.
type DuplicateKeyError struct {
	Collection string
	ID         any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: collection %q already holds a document with %s %v", ErrDuplicateKey, e.Collection, IDField, e.ID)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// IsClientError reports whether err was caused by the caller's input rather
// than by the store.
func IsClientError(err error) bool {
	return query.IsClientError(err) ||
		errors.Is(err, ErrInvalidBody) ||
		errors.Is(err, ErrInvalidCollectionName)
}
