package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxHistoryLimit = 100

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")
		limit, err := intParam(r, "limit", 0, 1, maxHistoryLimit)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		convs, err := deps.History.History(r.Context(), userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"user_id":       userID,
			"conversations": convs,
			"count":         len(convs),
		})
	}
}

func handleDeleteHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")

		n, err := deps.History.Delete(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete history: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"user_id":       userID,
			"deleted_count": n,
			"message":       fmt.Sprintf("Deleted %d conversations", n),
		})
	}
}
