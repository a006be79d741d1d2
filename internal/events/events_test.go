package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeWireShape(t *testing.T) {
	ts := time.Date(2026, time.March, 14, 19, 0, 0, 0, time.UTC)
	ev := New("T1", TypeTimerSync, ts, TimerSyncPayload{CurrentLevel: 2, TimeLeft: 45, Status: "running"})

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "tournamentId", "type", "timestamp", "data"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("envelope missing %q key: %s", key, data)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(wire["data"], &payload); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	for _, key := range []string{"currentLevel", "timeLeft", "status"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing %q key: %s", key, wire["data"])
		}
	}
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	ts := time.Now()
	a := New("T1", TypeLevelChanged, ts, LevelChangedPayload{Level: 2})
	b := New("T1", TypeLevelChanged, ts, LevelChangedPayload{Level: 2})
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event ids not unique: %q vs %q", a.ID, b.ID)
	}
}
