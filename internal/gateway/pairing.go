package gateway

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const pairingCodeLen = 6

// ErrUnknownCode is returned when a pairing code is not in the directory.
var ErrUnknownCode = errors.New("gateway: unknown pairing code")

// PairingDirectory maps short random codes to anonymous display
// connections. A second party presents the code to bind that display into a
// tournament's subscriber channel. This is a directory lookup, orthogonal
// to the clock engine.
type PairingDirectory struct {
	mu      sync.Mutex
	codes   map[string]*Connection
	manager *ConnectionManager
}

// NewPairingDirectory creates a directory backed by the given manager and
// hooks connection teardown so codes cannot outlive their connection.
func NewPairingDirectory(cm *ConnectionManager) *PairingDirectory {
	d := &PairingDirectory{
		codes:   make(map[string]*Connection),
		manager: cm,
	}
	cm.OnClose = d.Forget
	return d
}

// Register assigns a fresh code to an anonymous display connection.
func (d *PairingDirectory) Register(conn *Connection) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		code := strings.ToUpper(uuid.NewString()[:pairingCodeLen])
		if _, taken := d.codes[code]; taken {
			continue
		}
		d.codes[code] = conn
		log.Debug().Str("connection_id", conn.ID).Str("code", code).Msg("display registered for pairing")
		return code
	}
}

// Bind attaches the coded display connection to a tournament's channel.
// Codes are single-use and removed on bind.
func (d *PairingDirectory) Bind(code, tournamentID string) error {
	d.mu.Lock()
	conn, ok := d.codes[strings.ToUpper(code)]
	if ok {
		delete(d.codes, strings.ToUpper(code))
	}
	d.mu.Unlock()

	if !ok {
		return ErrUnknownCode
	}

	// The display can disconnect while the pair request is in flight. Its
	// teardown may run between the code lookup above and here; attach
	// refuses the dead connection and the code stays consumed.
	if !d.manager.attach(conn, tournamentID) {
		return ErrUnknownCode
	}
	log.Info().
		Str("code", strings.ToUpper(code)).
		Str("tournament_id", tournamentID).
		Msg("display paired")
	return nil
}

// Forget drops any code still pointing at a connection that went away
// before pairing completed.
func (d *PairingDirectory) Forget(conn *Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for code, c := range d.codes {
		if c == conn {
			delete(d.codes, code)
			log.Debug().Str("code", code).Msg("pairing code dropped with its connection")
		}
	}
}
