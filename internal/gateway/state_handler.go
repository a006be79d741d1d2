package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/feltops/blindclock/internal/clock"
)

// StateProvider is what the state endpoint needs from the clock engine.
type StateProvider interface {
	Snapshot(tournamentID string) (clock.State, bool)
}

// TournamentStateResponse is the REST snapshot of a ticking tournament.
// Admin UIs poll this on page load before the socket is up.
type TournamentStateResponse struct {
	TournamentID string `json:"tournamentId"`
	CurrentLevel int    `json:"currentLevel"`
	TimeLeft     int    `json:"timeLeft"`
	Status       string `json:"status"`
}

// StateHandler handles HTTP requests for tournament clock state.
type StateHandler struct {
	provider StateProvider
}

// NewStateHandler creates a new state handler.
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{provider: provider}
}

// HandleTournamentState returns the derived state of an active clock, or
// 404 when the tournament is not ticking.
func (h *StateHandler) HandleTournamentState(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	if tournamentID == "" {
		http.Error(w, "tournament id is required", http.StatusBadRequest)
		return
	}

	st, ok := h.provider.Snapshot(tournamentID)
	if !ok {
		http.Error(w, "tournament is not ticking", http.StatusNotFound)
		return
	}

	resp := TournamentStateResponse{
		TournamentID: tournamentID,
		CurrentLevel: st.CurrentLevel,
		TimeLeft:     st.TimeLeftSec,
		Status:       "running",
	}
	if st.Finished {
		resp.Status = "finished"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Str("tournament_id", tournamentID).Msg("failed to encode state response")
	}
}

// RegisterStateRoutes registers the REST state routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tournaments/{id}/state", h.HandleTournamentState)
}
