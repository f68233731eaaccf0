package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/store"
)

// StatsHandler exposes the aggregate counters an operational dashboard
// polls (spec.md §6), backed directly by SessionStore.Stats.
type StatsHandler struct {
	sessions store.SessionStore
}

func NewStatsHandler(sessions store.SessionStore) *StatsHandler {
	return &StatsHandler{sessions: sessions}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sessions.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats handler: failed to load stats")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load stats"})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
