// Package api exposes question answering, conversation history and usage
// analytics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/pdfqa/internal/history"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/ollama"
	"github.com/kalambet/pdfqa/internal/rag"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Answerer runs the question-answering pipeline. *rag.Pipeline implements it.
type Answerer interface {
	Answer(ctx context.Context, question string, topK int, history []ollama.Message) (rag.Answer, error)
}

// Deps holds the collaborators of the HTTP handler.
type Deps struct {
	Pipeline Answerer
	Metrics  *metrics.Store
	History  *history.Store

	// Token, when set, is required as a bearer token on /history and /metrics.
	Token string
	// QueryRate limits POST /query to this many requests per second with
	// bursts of QueryBurst. Zero disables the limit.
	QueryRate  float64
	QueryBurst int
	// DefaultTopK is used when a query omits top_k.
	DefaultTopK int
	// Registry receives the HTTP metrics served at /prometheus. A private
	// registry is created when nil.
	Registry *prometheus.Registry
}

// NewHandler returns the application router.
func NewHandler(deps Deps) http.Handler {
	if deps.DefaultTopK <= 0 {
		deps.DefaultTopK = 4
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(instrument(newHTTPMetrics(reg)))
	r.Use(recordErrors(deps.Metrics))

	r.Get("/", handleHealth)
	r.Get("/health", handleHealth)
	r.Handle("/prometheus", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.With(rateLimit(deps.QueryRate, deps.QueryBurst)).Post("/query", handleQuery(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/history/{user_id}", handleGetHistory(deps))
		r.Delete("/history/{user_id}", handleDeleteHistory(deps))

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/stats", handleStats(deps))
			r.Get("/user/{user_id}", handleUserStats(deps))
			r.Get("/top-users", handleTopUsers(deps))
			r.Get("/top-documents", handleTopDocuments(deps))
			r.Get("/errors", handleErrorStats(deps))
			r.Get("/time-series", handleTimeSeries(deps))
			r.Get("/export", handleExport(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not_found_error", "no route for %s %s", r.Method, r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method %s not allowed on %s", r.Method, r.URL.Path)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// intParam reads an optional integer query parameter. Absent values yield
// def; values that do not parse or fall outside [lo, hi] are rejected.
func intParam(r *http.Request, key string, def, lo, hi int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", key, lo, hi)
	}
	return v, nil
}
