package gateway

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/feltops/blindclock/internal/events"
)

func newUnboundConn(cm *ConnectionManager) *Connection {
	conn := &Connection{
		ID:      "test-conn",
		Send:    make(chan []byte, 4),
		Manager: cm,
	}
	cm.register(conn)
	return conn
}

func TestPairingRegisterIssuesShortCodes(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	d := NewPairingDirectory(cm)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code := d.Register(newUnboundConn(cm))
		if len(code) != pairingCodeLen {
			t.Fatalf("code %q has length %d, want %d", code, len(code), pairingCodeLen)
		}
		if code != strings.ToUpper(code) {
			t.Errorf("code %q is not upper case", code)
		}
		if seen[code] {
			t.Fatalf("code %q issued twice", code)
		}
		seen[code] = true
	}
}

func TestPairingBindMovesConnectionIntoPool(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	d := NewPairingDirectory(cm)

	conn := newUnboundConn(cm)
	code := d.Register(conn)

	if total, tournaments, unbound := cm.Stats(); total != 1 || tournaments != 0 || unbound != 1 {
		t.Fatalf("pre-bind stats = (%d, %d, %d), want (1, 0, 1)", total, tournaments, unbound)
	}

	// Codes are matched case-insensitively.
	if err := d.Bind(strings.ToLower(code), "T1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if conn.TournamentID != "T1" {
		t.Errorf("TournamentID = %q, want T1", conn.TournamentID)
	}
	if total, tournaments, unbound := cm.Stats(); total != 1 || tournaments != 1 || unbound != 0 {
		t.Errorf("post-bind stats = (%d, %d, %d), want (1, 1, 0)", total, tournaments, unbound)
	}

	// Codes are single-use.
	if err := d.Bind(code, "T2"); !errors.Is(err, ErrUnknownCode) {
		t.Errorf("second Bind = %v, want ErrUnknownCode", err)
	}
}

func TestPairingBindUnknownCode(t *testing.T) {
	d := NewPairingDirectory(NewConnectionManager(DefaultConnectionConfig()))
	if err := d.Bind("NOPE42", "T1"); !errors.Is(err, ErrUnknownCode) {
		t.Errorf("Bind = %v, want ErrUnknownCode", err)
	}
}

func TestPairingBindLosesRaceToDisconnect(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	d := NewPairingDirectory(cm)

	conn := newUnboundConn(cm)
	code := d.Register(conn)

	// The display drops while its pair request is in flight. Detaching the
	// OnClose hook mimics the interleave where Bind has already taken the
	// code out of the directory when teardown runs, so Forget finds nothing.
	cm.OnClose = nil
	cm.unregister(conn)

	if err := d.Bind(code, "T1"); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("Bind on a closed connection = %v, want ErrUnknownCode", err)
	}

	// The dead connection must not land in a pool; its Send channel is
	// closed and a broadcast send would panic the fan-out loop.
	cm.handleBroadcast(broadcastMessage{
		TournamentID: "T1",
		Event:        events.New("T1", events.TypeTimerSync, time.Now(), events.TimerSyncPayload{}),
	})
	if total, tournaments, _ := cm.Stats(); total != 0 || tournaments != 0 {
		t.Errorf("stats after failed bind = (%d, %d), want (0, 0)", total, tournaments)
	}
}

func TestAttachRefusesUnregisteredConnection(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	conn := newUnboundConn(cm)
	cm.unregister(conn)

	if cm.attach(conn, "T1") {
		t.Fatal("attach accepted a connection that was already unregistered")
	}
}

func TestPairingCodeDiesWithConnection(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	d := NewPairingDirectory(cm)

	conn := newUnboundConn(cm)
	code := d.Register(conn)

	// Teardown runs the manager's OnClose hook, which forgets the code.
	cm.unregister(conn)

	if err := d.Bind(code, "T1"); !errors.Is(err, ErrUnknownCode) {
		t.Errorf("Bind after disconnect = %v, want ErrUnknownCode", err)
	}
}
