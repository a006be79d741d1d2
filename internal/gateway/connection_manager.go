package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/feltops/blindclock/internal/events"
)

// ConnectionManager manages WebSocket connections for tournament events.
// Connections live either in a per-tournament pool or in the unbound set
// (anonymous displays waiting to be paired).
type ConnectionManager struct {
	pools   map[string]map[*Connection]bool
	unbound map[*Connection]bool
	mu      sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// OnClose, when set, is called after a connection is unregistered.
	// The pairing directory uses it to drop stale codes.
	OnClose func(*Connection)
}

// Connection represents a WebSocket connection to a client. TournamentID is
// guarded by the manager's mutex; it changes once at most, when a display
// is paired.
type Connection struct {
	ID           string
	TournamentID string
	Conn         *websocket.Conn
	Send         chan []byte
	Manager      *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	TournamentID string
	Event        *events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		pools:   make(map[string]map[*Connection]bool),
		unbound: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to WebSocket and registers the
// connection. An empty tournamentID registers an unbound display connection
// awaiting pairing.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, tournamentID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:           uuid.New().String(),
		TournamentID: tournamentID,
		Conn:         conn,
		Send:         make(chan []byte, 256),
		Manager:      cm,
		ConnectedAt:  time.Now(),
		LastPing:     time.Now(),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("tournament_id", tournamentID).
		Msg("WebSocket connection established")

	return connection, nil
}

// register adds a connection to its tournament pool or the unbound set.
func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.TournamentID == "" {
		cm.unbound[conn] = true
		return
	}
	if cm.pools[conn.TournamentID] == nil {
		cm.pools[conn.TournamentID] = make(map[*Connection]bool)
	}
	cm.pools[conn.TournamentID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("tournament_id", conn.TournamentID).
		Int("total_connections", len(cm.pools[conn.TournamentID])).
		Msg("connection registered")
}

// attach moves a connection into a tournament's pool. Used when a display
// is paired after connecting anonymously. Returns false when the connection
// is no longer registered: teardown won the race, its Send channel is
// already closed, and re-registering it would panic the broadcast loop.
func (cm *ConnectionManager) attach(conn *Connection, tournamentID string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	_, live := cm.unbound[conn]
	if !live {
		if pool, exists := cm.pools[conn.TournamentID]; exists {
			_, live = pool[conn]
		}
	}
	if !live {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("tournament_id", tournamentID).
			Msg("attach for a connection that already closed")
		return false
	}

	delete(cm.unbound, conn)
	if old, exists := cm.pools[conn.TournamentID]; exists {
		delete(old, conn)
		if len(old) == 0 {
			delete(cm.pools, conn.TournamentID)
		}
	}

	conn.TournamentID = tournamentID
	if cm.pools[tournamentID] == nil {
		cm.pools[tournamentID] = make(map[*Connection]bool)
	}
	cm.pools[tournamentID][conn] = true

	log.Info().
		Str("connection_id", conn.ID).
		Str("tournament_id", tournamentID).
		Msg("connection attached to tournament channel")
	return true
}

// unregister removes a connection from the manager.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	removed := false
	if _, exists := cm.unbound[conn]; exists {
		delete(cm.unbound, conn)
		removed = true
	}
	if pool, exists := cm.pools[conn.TournamentID]; exists {
		if _, exists := pool[conn]; exists {
			delete(pool, conn)
			if len(pool) == 0 {
				delete(cm.pools, conn.TournamentID)
			}
			removed = true
		}
	}
	if removed {
		close(conn.Send)
	}
	cm.mu.Unlock()

	if removed {
		log.Info().
			Str("connection_id", conn.ID).
			Str("tournament_id", conn.TournamentID).
			Msg("connection unregistered")
		if cm.OnClose != nil {
			cm.OnClose(conn)
		}
	}
}

// Publish queues an event for every subscriber of a tournament's channel.
// Implements the engine's Publisher interface. Ordering follows publish
// call order within one channel; there are no cross-channel guarantees.
func (cm *ConnectionManager) Publish(tournamentID string, event *events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{TournamentID: tournamentID, Event: event}:
	default:
		log.Warn().Str("tournament_id", tournamentID).Msg("broadcast channel full, dropping message")
	}
}

// SendEvent queues an event on a single connection, outside any tournament
// channel. Used for the display pairing code.
func (cm *ConnectionManager) SendEvent(conn *Connection, event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal direct event")
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, dropping direct event")
	}
}

// handleBroadcast delivers one message to every connection in the target
// pool. Delivery per subscriber is at-most-once; a slow subscriber is
// evicted rather than blocking the fan-out.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	pool, exists := cm.pools[message.TournamentID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(pool))
	for conn := range pool {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregister(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("tournament_id", message.TournamentID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns counts of active connections.
func (cm *ConnectionManager) Stats() (total int, tournaments int, unbound int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, pool := range cm.pools {
		total += len(pool)
	}
	return total + len(cm.unbound), len(cm.pools), len(cm.unbound)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading from the WebSocket connection. Viewers do not
// send commands; reads exist to service pongs and detect disconnects.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		log.Debug().
			Str("connection_id", c.ID).
			RawJSON("message", message).
			Msg("received client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
