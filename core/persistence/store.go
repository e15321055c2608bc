package persistence

import (
	"context"

	"github.com/asaidimu/go-anansi-rest/core/query"
)

// Document is a schema-less stored document.
type Document = query.Document

// IDField is the identifier field every stored document carries.
const IDField = query.IDField

// FindOptions narrows a Find. The store applies the filter first, then the
// projection, skip and limit. Nil Skip or Limit means no offset or no cap.
type FindOptions struct {
	Projection Document
	Skip       *int64
	Limit      *int64
}

// Cursor iterates over the results of a Find in the store's natural order.
type Cursor interface {
	// Next advances to the next document, returning false when the results are
	// exhausted or an error occurred.
	Next(ctx context.Context) bool
	// Document returns the current document.
	Document() Document
	// Err returns the error that stopped iteration, if any.
	Err() error
	Close(ctx context.Context) error
}

// StoreCollection is a handle to one collection of a document store. Filters
// and update documents use the Mongo-style selector language understood by
// query.DataProcessor. An empty filter matches every document.
type StoreCollection interface {
	Find(ctx context.Context, filter Document, opts FindOptions) (Cursor, error)

	// FindOne returns the first matching document, or nil and no error when
	// nothing matches.
	FindOne(ctx context.Context, filter Document, projection Document) (Document, error)

	// InsertOne stores doc, which must carry an identifier, and returns it.
	InsertOne(ctx context.Context, doc Document) (any, error)

	// InsertMany stores docs in order and returns their identifiers.
	InsertMany(ctx context.Context, docs []Document) ([]any, error)

	UpdateOne(ctx context.Context, filter Document, update Document) (*UpdateResult, error)
	UpdateMany(ctx context.Context, filter Document, update Document) (*UpdateResult, error)
	DeleteOne(ctx context.Context, filter Document) (*DeleteResult, error)
	DeleteMany(ctx context.Context, filter Document) (*DeleteResult, error)
}

// Store is a document store holding named collections.
type Store interface {
	Collection(name string) StoreCollection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// SliceCursor is a Cursor over documents already held in memory.
type SliceCursor struct {
	docs    []Document
	pos     int
	current Document
	err     error
}

// NewSliceCursor returns a cursor that yields docs in order.
func NewSliceCursor(docs []Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.docs) {
		c.current = nil
		return false
	}
	c.current = c.docs[c.pos]
	c.pos++
	return true
}

func (c *SliceCursor) Document() Document {
	return c.current
}

func (c *SliceCursor) Err() error {
	return c.err
}

func (c *SliceCursor) Close(ctx context.Context) error {
	c.docs = nil
	c.current = nil
	return nil
}

// Window applies skip and limit to an ordered result set.
func Window[T any](items []T, skip, limit *int64) []T {
	if skip != nil && *skip > 0 {
		if *skip >= int64(len(items)) {
			return items[:0]
		}
		items = items[*skip:]
	}
	if limit != nil && *limit > 0 && *limit < int64(len(items)) {
		items = items[:*limit]
	}
	return items
}
