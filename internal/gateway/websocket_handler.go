package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/feltops/blindclock/internal/events"
)

// PairResponse acknowledges a successful display pairing.
type PairResponse struct {
	Paired       bool   `json:"paired"`
	TournamentID string `json:"tournamentId"`
}

// ConnectionStatsResponse summarizes the manager's active connections.
type ConnectionStatsResponse struct {
	TotalConnections  int `json:"total_connections"`
	ActiveTournaments int `json:"active_tournaments"`
	UnpairedDisplays  int `json:"unpaired_displays"`
}

// ClockEnsurer is what the gateway needs from the clock engine: make sure a
// tournament's clock is ticking when a subscriber shows up.
type ClockEnsurer interface {
	EnsureRunning(ctx context.Context, tournamentID string) bool
}

// WebSocketHandler handles WebSocket upgrade requests for tournament and
// display connections, plus the pairing endpoint.
type WebSocketHandler struct {
	manager *ConnectionManager
	pairing *PairingDirectory
	clocks  ClockEnsurer
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, pairing *PairingDirectory, clocks ClockEnsurer) *WebSocketHandler {
	return &WebSocketHandler{
		manager: cm,
		pairing: pairing,
		clocks:  clocks,
	}
}

// HandleTournamentConnection subscribes a viewer to a tournament's channel.
// Arrival of a subscriber triggers recovery, so the first viewer after a
// restart revives the clock.
func (h *WebSocketHandler) HandleTournamentConnection(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.URL.Query().Get("tournament_id")
	if tournamentID == "" {
		http.Error(w, "tournament_id is required", http.StatusBadRequest)
		return
	}

	if _, err := h.manager.UpgradeConnection(w, r, tournamentID); err != nil {
		// Upgrade already wrote the HTTP error to the client.
		return
	}

	go func() {
		if !h.clocks.EnsureRunning(context.Background(), tournamentID) {
			log.Debug().Str("tournament_id", tournamentID).Msg("subscriber joined but tournament is not ticking")
		}
	}()
}

// HandleDisplayConnection accepts an anonymous display connection and sends
// it a pairing code.
func (h *WebSocketHandler) HandleDisplayConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.manager.UpgradeConnection(w, r, "")
	if err != nil {
		return
	}

	code := h.pairing.Register(conn)
	h.manager.SendEvent(conn, events.New("", events.TypeDisplayCode, conn.ConnectedAt, events.DisplayCodePayload{Code: code}))
}

// HandlePairDisplay binds a coded display into a tournament's channel.
func (h *WebSocketHandler) HandlePairDisplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code         string `json:"code"`
		TournamentID string `json:"tournamentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.TournamentID == "" {
		http.Error(w, "code and tournamentId are required", http.StatusBadRequest)
		return
	}

	if err := h.pairing.Bind(req.Code, req.TournamentID); err != nil {
		if errors.Is(err, ErrUnknownCode) {
			http.Error(w, "unknown pairing code", http.StatusNotFound)
			return
		}
		http.Error(w, "pairing failed", http.StatusInternalServerError)
		return
	}

	// The display should start counting down right away.
	go h.clocks.EnsureRunning(context.Background(), req.TournamentID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(PairResponse{Paired: true, TournamentID: req.TournamentID}); err != nil {
		log.Error().Err(err).Str("tournament_id", req.TournamentID).Msg("failed to encode pair response")
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, tournaments, unbound := h.manager.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ConnectionStatsResponse{
		TotalConnections:  total,
		ActiveTournaments: tournaments,
		UnpairedDisplays:  unbound,
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket and pairing routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/tournament", h.HandleTournamentConnection)
	mux.HandleFunc("GET /ws/display", h.HandleDisplayConnection)
	mux.HandleFunc("POST /api/displays/pair", h.HandlePairDisplay)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
