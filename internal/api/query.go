package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/kalambet/pdfqa/internal/history"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/ollama"
	"github.com/kalambet/pdfqa/internal/storage"
)

const (
	minQuestionLength = 3
	maxTopK           = 10
)

type queryRequest struct {
	Question            string           `json:"question"`
	TopK                *int             `json:"top_k"`
	UserID              string           `json:"user_id"`
	ConversationHistory []ollama.Message `json:"conversation_history"`
}

type queryResponse struct {
	Answer         string           `json:"answer"`
	Sources        []storage.Source `json:"sources"`
	ConversationID *int64           `json:"conversation_id"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
			return
		}
		info := infoFrom(r.Context())
		info.userID = req.UserID

		if utf8.RuneCountInString(req.Question) < minQuestionLength {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question must be at least %d characters", minQuestionLength)
			return
		}
		topK := deps.DefaultTopK
		if req.TopK != nil {
			topK = *req.TopK
		}
		if topK < 1 || topK > maxTopK {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "top_k must be between 1 and %d", maxTopK)
			return
		}

		start := time.Now()
		answer, err := deps.Pipeline.Answer(r.Context(), req.Question, topK, req.ConversationHistory)
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		ev := metrics.QueryEvent{
			UserID:         req.UserID,
			Question:       req.Question,
			TopK:           topK,
			ResponseTimeMs: elapsed,
			Success:        err == nil,
			Sources:        answer.Sources,
		}
		if err != nil {
			ev.ErrorMessage = err.Error()
		}
		// Recording outlives the request so cancelled queries are still counted.
		recCtx := context.WithoutCancel(r.Context())
		if _, rerr := deps.Metrics.RecordQuery(recCtx, ev); rerr != nil {
			slog.Warn("failed to record query metrics", "request_id", info.id, "error", rerr)
		}

		if err != nil {
			slog.Error("query failed", "request_id", info.id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		resp := queryResponse{Answer: answer.Text, Sources: answer.Sources}
		if resp.Sources == nil {
			resp.Sources = []storage.Source{}
		}
		if req.UserID != "" {
			id, err := deps.History.Save(recCtx, history.Turn{
				UserID:   req.UserID,
				Question: req.Question,
				Answer:   answer.Text,
				Sources:  answer.Sources,
				TopK:     topK,
			})
			if err != nil {
				slog.Warn("failed to save conversation", "request_id", info.id, "user_id", req.UserID, "error", err)
			} else {
				resp.ConversationID = &id
			}
		}

		writeJSON(w, resp)
	}
}
