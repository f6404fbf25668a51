package journal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/m3rciful/menubot/core/logger"
)

const maxRecentLimit = 200

// Handler serves GET /{userID}?limit=N with the user's latest entries.
func (j *Journal) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{userID}", j.recent)
	return r
}

func (j *Journal) recent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecentLimit)
	}

	entries, err := j.Recent(r.Context(), userID, limit)
	if err != nil {
		logger.Error(r.Context(), "journal", "journal.recent",
			slog.String("status", "error"),
			slog.String("user_id", userID),
			slog.String("err", err.Error()),
		)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
