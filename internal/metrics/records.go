package metrics

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryRecord is a stored query as written by RecordQuery.
type QueryRecord struct {
	ID             int64   `json:"id"`
	UserID         *string `json:"user_id"`
	Question       string  `json:"question"`
	TopK           int     `json:"top_k"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	Success        bool    `json:"success"`
	ErrorMessage   *string `json:"error_message"`
	SourcesCount   int     `json:"sources_count"`
	CreatedAt      string  `json:"created_at"`
}

// ErrorRecord is a stored error as written by RecordError.
type ErrorRecord struct {
	ID           int64   `json:"id"`
	UserID       *string `json:"user_id"`
	Endpoint     string  `json:"endpoint"`
	ErrorType    string  `json:"error_type"`
	ErrorMessage string  `json:"error_message"`
	StatusCode   *int    `json:"status_code"`
	CreatedAt    string  `json:"created_at"`
}

// DocumentUsageRow is a document usage record together with the fields of
// its owning query.
type DocumentUsageRow struct {
	ID             int64   `json:"id"`
	QueryID        int64   `json:"query_id"`
	UserID         *string `json:"user_id"`
	Question       *string `json:"question"`
	SourcePath     string  `json:"source_path"`
	Page           *int    `json:"page"`
	CreatedAt      string  `json:"created_at"`
	QueryCreatedAt *string `json:"query_created_at"`
}

// Queries lists query records matching f in insertion order.
func (s *Store) Queries(ctx context.Context, f Filter) ([]QueryRecord, error) {
	w := s.where("", f)

	out := []QueryRecord{}
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, user_id, question, top_k, response_time_ms, success, error_message, sources_count, created_at
			FROM queries `+w.SQL()+` ORDER BY id ASC`, w.Args()...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r QueryRecord
			var userID, errMsg sql.NullString
			if err := rows.Scan(&r.ID, &userID, &r.Question, &r.TopK, &r.ResponseTimeMs, &r.Success, &errMsg, &r.SourcesCount, &r.CreatedAt); err != nil {
				return err
			}
			r.UserID = nullString(userID)
			r.ErrorMessage = nullString(errMsg)
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	return out, nil
}

// Errors lists error records from the last days days (all when days <= 0).
func (s *Store) Errors(ctx context.Context, days int) ([]ErrorRecord, error) {
	w := s.where("", Filter{Days: days})

	out := []ErrorRecord{}
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, user_id, endpoint, error_type, error_message, status_code, created_at
			FROM errors `+w.SQL()+` ORDER BY id ASC`, w.Args()...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r ErrorRecord
			var userID sql.NullString
			var status sql.NullInt64
			if err := rows.Scan(&r.ID, &userID, &r.Endpoint, &r.ErrorType, &r.ErrorMessage, &status, &r.CreatedAt); err != nil {
				return err
			}
			r.UserID = nullString(userID)
			r.StatusCode = nullInt(status)
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing errors: %w", err)
	}
	return out, nil
}

// DocumentUsage lists document usage rows joined to their owning queries.
// The days window applies to the owning query's creation time.
func (s *Store) DocumentUsage(ctx context.Context, days int) ([]DocumentUsageRow, error) {
	w := s.where("q.", Filter{Days: days})

	out := []DocumentUsageRow{}
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT du.id, du.query_id, q.user_id, q.question, du.source_path, du.page, du.created_at, q.created_at
			FROM document_usage du
			LEFT JOIN queries q ON q.id = du.query_id
			`+w.SQL()+` ORDER BY du.id ASC`, w.Args()...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r DocumentUsageRow
			var userID, question, queryCreated sql.NullString
			var page sql.NullInt64
			if err := rows.Scan(&r.ID, &r.QueryID, &userID, &question, &r.SourcePath, &page, &r.CreatedAt, &queryCreated); err != nil {
				return err
			}
			r.UserID = nullString(userID)
			r.Question = nullString(question)
			r.Page = nullInt(page)
			r.QueryCreatedAt = nullString(queryCreated)
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing document usage: %w", err)
	}
	return out, nil
}
