package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/kalambet/pdfqa/internal/storage"
)

// DefaultLimit is used by the ranking queries when the caller passes limit <= 0.
const DefaultLimit = 10

// Filter narrows aggregations. Zero values mean "no filter": an empty UserID
// covers every user and Days == 0 covers all time.
type Filter struct {
	UserID string
	Days   int
}

// QueryStats summarizes a set of queries. Latency figures cover successful
// queries only and are 0 when there are none.
type QueryStats struct {
	TotalQueries      int     `json:"total_queries"`
	SuccessfulQueries int     `json:"successful_queries"`
	FailedQueries     int     `json:"failed_queries"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	MinResponseTimeMs float64 `json:"min_response_time_ms"`
	MaxResponseTimeMs float64 `json:"max_response_time_ms"`
	MostUsedTopK      *int    `json:"most_used_top_k"`
}

// UserActivity is one identified user's query volume and latency.
type UserActivity struct {
	UserID            string  `json:"user_id"`
	QueryCount        int     `json:"query_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	SuccessfulQueries int     `json:"successful_queries"`
}

// DocumentRank counts how often a source document was retrieved.
type DocumentRank struct {
	SourcePath    string `json:"source_path"`
	UsageCount    int    `json:"usage_count"`
	UniqueQueries int    `json:"unique_queries"`
}

// ErrorTypeCount is the number of errors of one type.
type ErrorTypeCount struct {
	ErrorType string `json:"error_type"`
	Count     int    `json:"count"`
}

// EndpointCount is the number of errors raised by one endpoint.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

// ErrorStats summarizes recorded errors, most frequent groups first.
type ErrorStats struct {
	TotalErrors    int              `json:"total_errors"`
	ErrorTypes     []ErrorTypeCount `json:"error_types"`
	ErrorEndpoints []EndpointCount  `json:"error_endpoints"`
}

// DailyPoint is one calendar date (UTC) of query activity.
type DailyPoint struct {
	Date              string  `json:"date"`
	QueryCount        int     `json:"query_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	SuccessfulQueries int     `json:"successful_queries"`
	FailedQueries     int     `json:"failed_queries"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// where builds the filter over a queries table referenced as prefix
// ("" or "q.").
func (s *Store) where(prefix string, f Filter) *storage.Where {
	w := &storage.Where{}
	if f.UserID != "" {
		w.And(prefix+"user_id = ?", f.UserID)
	}
	if f.Days > 0 {
		w.And(prefix+"created_at >= ?", storage.Since(s.now(), f.Days))
	}
	return w
}

// QueryStats computes totals, success rate, latency and the most used top_k
// for queries matching f. Ties for the most used top_k go to the smallest value.
func (s *Store) QueryStats(ctx context.Context, f Filter) (QueryStats, error) {
	var st QueryStats
	w := s.where("", f)
	ok := w.Clone().And("success = 1")

	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		var successful sql.NullInt64
		if err := conn.QueryRowContext(ctx,
			`SELECT COUNT(*), SUM(success) FROM queries `+w.SQL(), w.Args()...,
		).Scan(&st.TotalQueries, &successful); err != nil {
			return fmt.Errorf("counting queries: %w", err)
		}
		st.SuccessfulQueries = int(successful.Int64)
		st.FailedQueries = st.TotalQueries - st.SuccessfulQueries
		if st.TotalQueries > 0 {
			st.SuccessRate = round2(float64(st.SuccessfulQueries) / float64(st.TotalQueries) * 100)
		}

		var avg, lo, hi sql.NullFloat64
		if err := conn.QueryRowContext(ctx,
			`SELECT AVG(response_time_ms), MIN(response_time_ms), MAX(response_time_ms) FROM queries `+ok.SQL(), ok.Args()...,
		).Scan(&avg, &lo, &hi); err != nil {
			return fmt.Errorf("computing latency: %w", err)
		}
		st.AvgResponseTimeMs = round2(avg.Float64)
		st.MinResponseTimeMs = round2(lo.Float64)
		st.MaxResponseTimeMs = round2(hi.Float64)

		var topK int
		err := conn.QueryRowContext(ctx,
			`SELECT top_k, COUNT(*) AS n FROM queries `+w.SQL()+`
			GROUP BY top_k ORDER BY n DESC, top_k ASC LIMIT 1`, w.Args()...,
		).Scan(&topK, new(int))
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return fmt.Errorf("finding most used top_k: %w", err)
		default:
			st.MostUsedTopK = &topK
		}
		return nil
	})
	if err != nil {
		return QueryStats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// UserStats is QueryStats restricted to one user.
func (s *Store) UserStats(ctx context.Context, userID string, days int) (QueryStats, error) {
	return s.QueryStats(ctx, Filter{UserID: userID, Days: days})
}

// TopUsers ranks identified users by query count, highest first.
func (s *Store) TopUsers(ctx context.Context, limit, days int) ([]UserActivity, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	w := s.where("", Filter{Days: days})
	w.And("user_id IS NOT NULL")

	users := []UserActivity{}
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT user_id, COUNT(*) AS query_count, AVG(response_time_ms), SUM(success)
			FROM queries `+w.SQL()+`
			GROUP BY user_id
			ORDER BY query_count DESC, user_id ASC
			LIMIT ?`, append(w.Args(), limit)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var u UserActivity
			var avg float64
			if err := rows.Scan(&u.UserID, &u.QueryCount, &avg, &u.SuccessfulQueries); err != nil {
				return err
			}
			u.AvgResponseTimeMs = round2(avg)
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	return users, nil
}

// TopDocuments ranks source documents by how often they were retrieved.
// The owning queries are joined only to apply a days window.
func (s *Store) TopDocuments(ctx context.Context, limit, days int) ([]DocumentRank, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	from := "document_usage du"
	w := &storage.Where{}
	if days > 0 {
		from += " JOIN queries q ON q.id = du.query_id"
		w = s.where("q.", Filter{Days: days})
	}

	docs := []DocumentRank{}
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT du.source_path, COUNT(*) AS usage_count, COUNT(DISTINCT du.query_id)
			FROM `+from+` `+w.SQL()+`
			GROUP BY du.source_path
			ORDER BY usage_count DESC, du.source_path ASC
			LIMIT ?`, append(w.Args(), limit)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d DocumentRank
			if err := rows.Scan(&d.SourcePath, &d.UsageCount, &d.UniqueQueries); err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("top documents: %w", err)
	}
	return docs, nil
}

// ErrorStats counts errors overall, by type and by endpoint.
func (s *Store) ErrorStats(ctx context.Context, days int) (ErrorStats, error) {
	st := ErrorStats{ErrorTypes: []ErrorTypeCount{}, ErrorEndpoints: []EndpointCount{}}
	w := s.where("", Filter{Days: days})

	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM errors `+w.SQL(), w.Args()...,
		).Scan(&st.TotalErrors); err != nil {
			return fmt.Errorf("counting errors: %w", err)
		}

		err := groupCounts(ctx, conn, "error_type", w, func(key string, n int) {
			st.ErrorTypes = append(st.ErrorTypes, ErrorTypeCount{ErrorType: key, Count: n})
		})
		if err != nil {
			return fmt.Errorf("grouping by type: %w", err)
		}
		err = groupCounts(ctx, conn, "endpoint", w, func(key string, n int) {
			st.ErrorEndpoints = append(st.ErrorEndpoints, EndpointCount{Endpoint: key, Count: n})
		})
		if err != nil {
			return fmt.Errorf("grouping by endpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return ErrorStats{}, fmt.Errorf("error stats: %w", err)
	}
	return st, nil
}

// groupCounts counts errors per value of column, most frequent first. column
// is always a constant from this package.
func groupCounts(ctx context.Context, conn *sql.Conn, column string, w *storage.Where, add func(string, int)) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT `+column+`, COUNT(*) AS n FROM errors `+w.SQL()+`
		GROUP BY `+column+`
		ORDER BY n DESC, `+column+` ASC`, w.Args()...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

// TimeSeries returns one point per UTC date that has at least one query in
// the window, oldest first. Dates without queries are omitted.
func (s *Store) TimeSeries(ctx context.Context, days int, userID string) ([]DailyPoint, error) {
	w := s.where("", Filter{UserID: userID, Days: days})

	points := []DailyPoint{}
	err := s.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT DATE(created_at) AS day, COUNT(*), AVG(response_time_ms), SUM(success)
			FROM queries `+w.SQL()+`
			GROUP BY day
			ORDER BY day ASC`, w.Args()...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p DailyPoint
			var avg float64
			if err := rows.Scan(&p.Date, &p.QueryCount, &avg, &p.SuccessfulQueries); err != nil {
				return err
			}
			p.AvgResponseTimeMs = round2(avg)
			p.FailedQueries = p.QueryCount - p.SuccessfulQueries
			points = append(points, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("time series: %w", err)
	}
	return points, nil
}
