// Package history persists question/answer turns per user.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/pdfqa/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserRequired is returned by Save when the turn has no user id.
var ErrUserRequired = errors.New("user id is required")

// Turn is a question/answer exchange to be saved.
type Turn struct {
	UserID   string
	Question string
	Answer   string
	Sources  []storage.Source
	TopK     int
}

// Conversation is a stored turn.
type Conversation struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Question  string           `json:"question"`
	Answer    string           `json:"answer"`
	Sources   []storage.Source `json:"sources"`
	TopK      int              `json:"top_k"`
	CreatedAt string           `json:"created_at"`
}

// Store is the conversation history namespace.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

// Open opens the history database at path. Pass storage.MemoryPath for an
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := storage.Open(path, migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the conversations table and indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.EnsureSchema(ctx)
}

// SchemaObjects lists the tables and indexes of the history namespace.
func (s *Store) SchemaObjects(ctx context.Context) ([]string, error) {
	return s.db.SchemaObjects(ctx)
}

// Save appends a turn to the user's history and returns its id.
func (s *Store) Save(ctx context.Context, t Turn) (int64, error) {
	if t.UserID == "" {
		return 0, ErrUserRequired
	}

	sources := t.Sources
	if sources == nil {
		sources = []storage.Source{}
	}
	encoded, err := json.Marshal(sources)
	if err != nil {
		return 0, fmt.Errorf("encoding sources: %w", err)
	}

	var id int64
	err = s.db.WithConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO conversations (user_id, question, answer, sources, top_k, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.UserID, t.Question, t.Answer, string(encoded), t.TopK, storage.FormatTime(s.now()),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("saving conversation: %w", err)
	}
	return id, nil
}

// History returns the user's turns oldest first. When limit > 0 only the
// most recent limit turns are returned, still oldest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	query := `
		SELECT id, user_id, question, answer, sources, top_k, created_at
		FROM conversations WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`
	args := []any{userID}
	if limit > 0 {
		query = `
			SELECT id, user_id, question, answer, sources, top_k, created_at FROM (
				SELECT * FROM conversations WHERE user_id = ?
				ORDER BY created_at DESC, id DESC LIMIT ?
			) ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}

	out := []Conversation{}
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c Conversation
			var sources string
			if err := rows.Scan(&c.ID, &c.UserID, &c.Question, &c.Answer, &sources, &c.TopK, &c.CreatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(sources), &c.Sources); err != nil {
				return fmt.Errorf("decoding sources of conversation %d: %w", c.ID, err)
			}
			if c.Sources == nil {
				c.Sources = []storage.Source{}
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading history for %q: %w", userID, err)
	}
	return out, nil
}

// Delete removes every turn of the user and reports how many were removed.
func (s *Store) Delete(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, "DELETE FROM conversations WHERE user_id = ?", userID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting history for %q: %w", userID, err)
	}
	return n, nil
}

// Count returns the number of stored turns for the user.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations WHERE user_id = ?", userID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("counting history for %q: %w", userID, err)
	}
	return n, nil
}
