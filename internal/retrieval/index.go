// Package retrieval stores embedded document chunks and finds the chunks
// most similar to a question.
package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/pdfqa/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Chunk is an embedded fragment of a source document.
type Chunk struct {
	ID        string
	Source    string
	Page      *int
	Text      string
	Embedding []float32
}

// Scored is a Chunk with its cosine similarity to the query.
type Scored struct {
	Chunk
	Score float32
}

// Index is a vector index backed by SQLite. Search is a brute-force cosine
// scan, which is adequate for a single document collection.
type Index struct {
	db *storage.DB
}

// OpenIndex opens the index database at path. Pass storage.MemoryPath for an
// in-memory index.
func OpenIndex(path string) (*Index, error) {
	db, err := storage.Open(path, migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Insert stores chunks in one transaction.
func (x *Index) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := storage.FormatTime(time.Now())
	return x.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, source, page, text, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert statement: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, c.ID, c.Source, c.Page, c.Text, encodeFloat32s(c.Embedding), now); err != nil {
				return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// Search returns up to k chunks most similar to vector, best first.
func (x *Index) Search(ctx context.Context, vector []float32, k int) ([]Scored, error) {
	queryNorm := norm(vector)
	if queryNorm == 0 || k <= 0 {
		return nil, nil
	}

	h := &scoredHeap{}
	err := x.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT id, source, page, text, embedding FROM chunks`)
		if err != nil {
			return fmt.Errorf("querying chunks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var c Chunk
			var page sql.NullInt64
			var blob []byte
			if err := rows.Scan(&c.ID, &c.Source, &page, &c.Text, &blob); err != nil {
				return fmt.Errorf("scanning chunk: %w", err)
			}
			if c.Embedding, err = decodeFloat32s(blob); err != nil {
				return fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
			}
			if page.Valid {
				p := int(page.Int64)
				c.Page = &p
			}

			score := cosine(vector, c.Embedding, queryNorm)
			if h.Len() < k {
				heap.Push(h, Scored{Chunk: c, Score: score})
			} else if score > (*h)[0].Score {
				(*h)[0] = Scored{Chunk: c, Score: score}
				heap.Fix(h, 0)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	results := []Scored(*h)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// DeleteSource removes every chunk of source and returns how many were removed.
func (x *Index) DeleteSource(ctx context.Context, source string) (int64, error) {
	var n int64
	err := x.db.WithConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, "DELETE FROM chunks WHERE source = ?", source)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of %s: %w", source, err)
	}
	return n, nil
}

// Count returns the number of indexed chunks.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	})
	return n, err
}

// Sources lists the distinct indexed sources in name order.
func (x *Index) Sources(ctx context.Context) ([]string, error) {
	var out []string
	err := x.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT DISTINCT source FROM chunks ORDER BY source ASC")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return out, nil
}

// scoredHeap is a min-heap on Score holding the current top-k candidates.
type scoredHeap []Scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(Scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
