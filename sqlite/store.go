// Package sqlite provides a persistence.Store backed by a single SQLite table.
// Documents are stored as JSON in insertion order; selectors, projections and
// update documents are evaluated in Go, with identifier lookups answered by
// the table's unique index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"github.com/asaidimu/go-anansi-rest/core/query"
	"github.com/mattn/go-sqlite3"
	"github.com/ohler55/ojg/oj"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	UNIQUE(collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);
`

// dbRunner abstracts the methods shared by *sql.DB and *sql.Tx, so the same
// code runs inside and outside a transaction.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store is a SQLite-backed persistence.Store.
type Store struct {
	db        *sql.DB
	processor *query.DataProcessor
	logger    *zap.Logger
}

var _ persistence.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProcessor sets the processor used to evaluate selectors.
func WithProcessor(p *query.DataProcessor) Option {
	return func(s *Store) {
		if p != nil {
			s.processor = p
		}
	}
}

// Open opens (creating if needed) the database file at path.
func Open(path string, opts ...Option) (*Store, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn := path
	if !inMemory {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database and creates the documents table if needed.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.processor == nil {
		s.processor = query.NewDataProcessor(s.logger)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Collection(name string) persistence.StoreCollection {
	return &Collection{store: s, name: name}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(r dbRunner) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Collection is a handle to one collection of a Store.
type Collection struct {
	store *Store
	name  string
}

type row struct {
	seq int64
	doc persistence.Document
}

// load reads the collection's documents matching filter in insertion order.
// A filter on a single identifier is answered from the unique index.
func (c *Collection) load(ctx context.Context, r dbRunner, filter persistence.Document, single bool) ([]row, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if id, ok := persistence.IDFromFilter(filter); ok {
		key, keyErr := persistence.IDKey(id)
		if keyErr != nil {
			return nil, keyErr
		}
		rows, err = r.QueryContext(ctx, `SELECT seq, data FROM documents WHERE collection = ? AND id = ?`, c.name, key)
	} else {
		rows, err = r.QueryContext(ctx, `SELECT seq, data FROM documents WHERE collection = ? ORDER BY seq`, c.name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %q: %w", c.name, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			seq  int64
			data string
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		decoded, err := query.ParseJSON([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %d: %w", seq, err)
		}
		doc, ok := decoded.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("document %d is not an object", seq)
		}

		matched, err := c.store.processor.Match(ctx, filter, doc)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		out = append(out, row{seq: seq, doc: doc})
		if single {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return out, nil
}

func (c *Collection) Find(ctx context.Context, filter persistence.Document, opts persistence.FindOptions) (persistence.Cursor, error) {
	projection, err := query.CompileProjection(opts.Projection)
	if err != nil {
		return nil, err
	}

	rows, err := c.load(ctx, c.store.db, filter, false)
	if err != nil {
		return nil, err
	}
	rows = persistence.Window(rows, opts.Skip, opts.Limit)

	docs := make([]persistence.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, projection.Apply(r.doc))
	}
	c.store.logger.Debug("Find completed", zap.String("collection", c.name), zap.Int("count", len(docs)))
	return persistence.NewSliceCursor(docs), nil
}

func (c *Collection) FindOne(ctx context.Context, filter persistence.Document, projection persistence.Document) (persistence.Document, error) {
	proj, err := query.CompileProjection(projection)
	if err != nil {
		return nil, err
	}
	rows, err := c.load(ctx, c.store.db, filter, true)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return proj.Apply(rows[0].doc), nil
}

func (c *Collection) InsertOne(ctx context.Context, doc persistence.Document) (any, error) {
	ids, err := c.InsertMany(ctx, []persistence.Document{doc})
	if err != nil {
		return nil, err
	}
	return ids[0], nil
}

// InsertMany inserts the batch in one transaction: either every document is
// stored or none is.
func (c *Collection) InsertMany(ctx context.Context, docs []persistence.Document) ([]any, error) {
	ids := make([]any, len(docs))
	err := c.store.withTx(ctx, func(r dbRunner) error {
		for i, doc := range docs {
			id := doc[persistence.IDField]
			key, err := persistence.IDKey(id)
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			data, err := encodeDocument(doc)
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			_, err = r.ExecContext(ctx,
				`INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`,
				c.name, key, data)
			if err != nil {
				if isUniqueViolation(err) {
					return &persistence.DuplicateKeyError{Collection: c.name, ID: id}
				}
				return fmt.Errorf("failed to insert document %d: %w", i, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	return c.update(ctx, filter, update, true)
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update persistence.Document) (*persistence.UpdateResult, error) {
	return c.update(ctx, filter, update, false)
}

func (c *Collection) update(ctx context.Context, filter, update persistence.Document, single bool) (*persistence.UpdateResult, error) {
	res := &persistence.UpdateResult{}
	err := c.store.withTx(ctx, func(r dbRunner) error {
		rows, err := c.load(ctx, r, filter, single)
		if err != nil {
			return err
		}
		res.MatchedCount = int64(len(rows))

		for _, row := range rows {
			changed, err := c.store.processor.ApplyUpdate(row.doc, update)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			data, err := encodeDocument(row.doc)
			if err != nil {
				return fmt.Errorf("document %d: %w", row.seq, err)
			}
			if _, err := r.ExecContext(ctx, `UPDATE documents SET data = ? WHERE seq = ?`, data, row.seq); err != nil {
				return fmt.Errorf("failed to update document %d: %w", row.seq, err)
			}
			res.ModifiedCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Collection) DeleteOne(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	return c.delete(ctx, filter, true)
}

func (c *Collection) DeleteMany(ctx context.Context, filter persistence.Document) (*persistence.DeleteResult, error) {
	return c.delete(ctx, filter, false)
}

func (c *Collection) delete(ctx context.Context, filter persistence.Document, single bool) (*persistence.DeleteResult, error) {
	res := &persistence.DeleteResult{}
	err := c.store.withTx(ctx, func(r dbRunner) error {
		if len(filter) == 0 && !single {
			result, err := r.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, c.name)
			if err != nil {
				return fmt.Errorf("failed to delete documents: %w", err)
			}
			res.DeletedCount, err = result.RowsAffected()
			return err
		}

		rows, err := c.load(ctx, r, filter, single)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := r.ExecContext(ctx, `DELETE FROM documents WHERE seq = ?`, row.seq); err != nil {
				return fmt.Errorf("failed to delete document %d: %w", row.seq, err)
			}
			res.DeletedCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// encodeDocument renders doc as the JSON stored in the data column. Documents
// holding values JSON cannot represent are refused.
func encodeDocument(doc persistence.Document) (string, error) {
	if err := query.CheckValue(doc); err != nil {
		return "", err
	}
	return oj.JSON(doc), nil
}
