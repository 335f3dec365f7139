package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pdfqa/internal/export"
	"github.com/kalambet/pdfqa/internal/metrics"
)

const (
	defaultDays       = 30
	maxDays           = 365
	defaultSeriesDays = 7
	maxSeriesDays     = 90
	maxLimit          = 100
)

func daysParam(r *http.Request) (int, error) {
	return intParam(r, "days", defaultDays, 1, maxDays)
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := daysParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		stats, err := deps.Metrics.QueryStats(r.Context(), metrics.Filter{
			UserID: r.URL.Query().Get("user_id"),
			Days:   days,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func handleUserStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")
		days, err := daysParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		stats, err := deps.Metrics.UserStats(r.Context(), userID, days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute user stats: %v", err)
			return
		}
		writeJSON(w, struct {
			UserID string `json:"user_id"`
			metrics.QueryStats
		}{userID, stats})
	}
}

func limitAndDays(r *http.Request) (limit, days int, err error) {
	if limit, err = intParam(r, "limit", metrics.DefaultLimit, 1, maxLimit); err != nil {
		return 0, 0, err
	}
	if days, err = daysParam(r); err != nil {
		return 0, 0, err
	}
	return limit, days, nil
}

func handleTopUsers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, days, err := limitAndDays(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		users, err := deps.Metrics.TopUsers(r.Context(), limit, days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rank users: %v", err)
			return
		}
		writeJSON(w, map[string]any{"top_users": users, "limit": limit, "days": days})
	}
}

func handleTopDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, days, err := limitAndDays(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		docs, err := deps.Metrics.TopDocuments(r.Context(), limit, days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rank documents: %v", err)
			return
		}
		writeJSON(w, map[string]any{"top_documents": docs, "limit": limit, "days": days})
	}
}

func handleErrorStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := daysParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		stats, err := deps.Metrics.ErrorStats(r.Context(), days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute error stats: %v", err)
			return
		}
		writeJSON(w, struct {
			Days int `json:"days"`
			metrics.ErrorStats
		}{days, stats})
	}
}

func handleTimeSeries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := intParam(r, "days", defaultSeriesDays, 1, maxSeriesDays)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := r.URL.Query().Get("user_id")
		var userID *string
		if id != "" {
			userID = &id
		}
		series, err := deps.Metrics.TimeSeries(r.Context(), days, id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build time series: %v", err)
			return
		}
		writeJSON(w, map[string]any{"days": days, "user_id": userID, "time_series": series})
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		days, err := daysParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		dataType, err := export.ParseDataType(valueOr(q.Get("data_type"), string(export.Queries)))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		format, err := export.ParseFormat(valueOr(q.Get("export_format"), string(export.JSON)))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		p, err := export.Export(r.Context(), deps.Metrics, export.Request{
			DataType: dataType,
			Format:   format,
			UserID:   q.Get("user_id"),
			Days:     days,
		})
		if errors.Is(err, export.ErrInvalidDataType) || errors.Is(err, export.ErrInvalidFormat) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", p.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.Filename))
		w.Write(p.Body)
	}
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
