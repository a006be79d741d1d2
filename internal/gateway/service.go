package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service composes the connection manager, pairing directory and HTTP
// handlers into one gateway the rest of the process wires up.
type Service struct {
	manager      *ConnectionManager
	pairing      *PairingDirectory
	wsHandler    *WebSocketHandler
	stateHandler *StateHandler
}

// NewService builds the gateway around an existing connection manager. The
// manager is created first by the caller because the clock engine needs it
// as its publisher before the rest of the gateway exists. The clock ensurer
// and state provider are both satisfied by the engine.
func NewService(manager *ConnectionManager, clocks ClockEnsurer, states StateProvider) *Service {
	pairing := NewPairingDirectory(manager)

	return &Service{
		manager:      manager,
		pairing:      pairing,
		wsHandler:    NewWebSocketHandler(manager, pairing, clocks),
		stateHandler: NewStateHandler(states),
	}
}

// Start runs the broadcast loop until the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting gateway service")
	s.manager.Start(ctx)
}

// RegisterRoutes registers the WebSocket, pairing and state routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("gateway routes registered")
}
