// Package metrics records query outcomes and observed errors, and computes
// usage statistics from those records.
package metrics

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/kalambet/pdfqa/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the metrics namespace: queries, errors and document usage.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at and for days windows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the metrics database at path. Pass storage.MemoryPath for an
// in-memory store.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := storage.Open(path, migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("opening metrics store: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the metrics tables and indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.EnsureSchema(ctx)
}

// SchemaObjects lists the tables and indexes of the metrics namespace.
func (s *Store) SchemaObjects(ctx context.Context) ([]string, error) {
	return s.db.SchemaObjects(ctx)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func optString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
