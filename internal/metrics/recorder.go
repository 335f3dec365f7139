package metrics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kalambet/pdfqa/internal/storage"
)

// DefaultFailureMessage is stored for a failed query reported without a message.
const DefaultFailureMessage = "unknown error"

// QueryEvent describes one completed question-answering request.
type QueryEvent struct {
	UserID         string
	Question       string
	TopK           int
	ResponseTimeMs float64
	Success        bool
	Sources        []storage.Source
	ErrorMessage   string
}

// ErrorEvent describes an error observed while serving a request.
// StatusCode 0 means no status applies.
type ErrorEvent struct {
	UserID     string
	Endpoint   string
	ErrorType  string
	Message    string
	StatusCode int
}

// RecordQuery stores the query and one document usage row per source in a
// single transaction and returns the new query id.
func (s *Store) RecordQuery(ctx context.Context, ev QueryEvent) (int64, error) {
	errMsg := optString(ev.ErrorMessage)
	if !ev.Success && errMsg == nil {
		errMsg = DefaultFailureMessage
	}
	createdAt := storage.FormatTime(s.now())

	var id int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO queries (user_id, question, top_k, response_time_ms, success, error_message, sources_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			optString(ev.UserID), ev.Question, ev.TopK, ev.ResponseTimeMs, ev.Success, errMsg, len(ev.Sources), createdAt,
		)
		if err != nil {
			return fmt.Errorf("inserting query: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading query id: %w", err)
		}

		if len(ev.Sources) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_usage (query_id, source_path, page, created_at)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing document usage insert: %w", err)
		}
		defer stmt.Close()

		for _, src := range ev.Sources {
			if _, err := stmt.ExecContext(ctx, id, src.Source, src.Page, createdAt); err != nil {
				return fmt.Errorf("inserting document usage for %q: %w", src.Source, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recording query: %w", err)
	}
	return id, nil
}

// RecordError stores ev and returns the new error id.
func (s *Store) RecordError(ctx context.Context, ev ErrorEvent) (int64, error) {
	var status any
	if ev.StatusCode != 0 {
		status = ev.StatusCode
	}

	var id int64
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO errors (user_id, endpoint, error_type, error_message, status_code, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			optString(ev.UserID), ev.Endpoint, ev.ErrorType, ev.Message, status, storage.FormatTime(s.now()),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("recording error: %w", err)
	}
	return id, nil
}
