package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kalambet/pdfqa/internal/metrics"
)

type requestInfoKey struct{}

// requestInfo travels with the request so that handlers can report facts
// the error recorder cannot see, such as a user id read from a JSON body.
type requestInfo struct {
	id     string
	userID string
}

func infoFrom(ctx context.Context) *requestInfo {
	if ri, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return ri
	}
	return &requestInfo{}
}

// requestID assigns every request an X-Request-ID, keeping one supplied by
// the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestInfoKey{}, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newHTTPMetrics registers the request collectors on reg. Registering twice
// on the same registry panics.
func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfqa_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdfqa_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func instrument(m *httpMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.requests.WithLabelValues(r.Method, route, strconv.Itoa(statusOf(ww))).Inc()
			m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

// recordErrors stores an error record for every response with status >= 400
// and turns panics into recorded 500 responses. Recording is best-effort.
func recordErrors(store *metrics.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				rec := recover()
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				ev := metrics.ErrorEvent{
					UserID:     userIDOf(r),
					Endpoint:   r.URL.Path,
					StatusCode: statusOf(ww),
				}
				if rec != nil {
					slog.Error("handler panic", "request_id", infoFrom(r.Context()).id, "path", r.URL.Path, "panic", rec)
					if ww.Status() == 0 {
						httpError(ww, http.StatusInternalServerError, "api_error", "internal server error")
					}
					ev.ErrorType = "panic"
					ev.Message = fmt.Sprint(rec)
					ev.StatusCode = http.StatusInternalServerError
				} else if ev.StatusCode >= 400 {
					ev.ErrorType = fmt.Sprintf("HTTP_%d", ev.StatusCode)
					ev.Message = fmt.Sprintf("HTTP %d", ev.StatusCode)
				} else {
					return
				}

				if store == nil {
					return
				}
				if _, err := store.RecordError(context.WithoutCancel(r.Context()), ev); err != nil {
					slog.Warn("failed to record error", "request_id", infoFrom(r.Context()).id, "error", err)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// userIDOf finds the caller's user id in the route, the query string or the
// request info filled in by a handler, in that order.
func userIDOf(r *http.Request) string {
	if id := chi.URLParam(r, "user_id"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return infoFrom(r.Context()).userID
}

// rateLimit allows rps requests per second with bursts of burst. A
// non-positive rps disables limiting.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
