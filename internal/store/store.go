package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrRevisionConflict is returned by Save when another writer saved first.
var ErrRevisionConflict = errors.New("document revision conflict")

// DocumentStore loads and saves the whole document as one unit.
// Save must only succeed when doc.Revision still matches the stored
// revision, and bumps doc.Revision on success.
type DocumentStore interface {
	Load(ctx context.Context) (*models.Document, error)
	Save(ctx context.Context, doc *models.Document) error
}

const schema = `
CREATE TABLE IF NOT EXISTS tenant_documents (
	id         TEXT PRIMARY KEY,
	revision   BIGINT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Store is the Postgres-backed document store. The whole document lives in
// one JSONB row; revision guards every write.
type Store struct {
	db         *sqlx.DB
	documentID string
}

// NewStore creates a new database store
func NewStore(databaseURL, documentID string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, documentID: documentID}, nil
}

// EnsureSchema creates the documents table if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

type documentRow struct {
	Revision int64  `db:"revision"`
	Body     []byte `db:"body"`
}

// Load reads the current document; a missing row is an empty document at revision 0
func (s *Store) Load(ctx context.Context) (*models.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row,
		"SELECT revision, body FROM tenant_documents WHERE id = $1", s.documentID)
	if err == sql.ErrNoRows {
		return &models.Document{}, nil
	}
	if err != nil {
		return nil, apperr.ErrStoreUnavailable.Wrap(err)
	}

	var doc models.Document
	if err := json.Unmarshal(row.Body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	doc.Revision = row.Revision
	return &doc, nil
}

// Save writes doc if its revision is still current
func (s *Store) Save(ctx context.Context, doc *models.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	var res sql.Result
	if doc.Revision == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO tenant_documents (id, revision, body) VALUES ($1, 1, $2)
			 ON CONFLICT (id) DO NOTHING`,
			s.documentID, body)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE tenant_documents SET body = $1, revision = revision + 1, updated_at = NOW()
			 WHERE id = $2 AND revision = $3`,
			body, s.documentID, doc.Revision)
	}
	if err != nil {
		return apperr.ErrStoreUnavailable.Wrap(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return apperr.ErrStoreUnavailable.Wrap(err)
	}
	if n == 0 {
		return ErrRevisionConflict
	}

	doc.Revision++
	return nil
}
