package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope every subscriber-facing message is wrapped in. The
// envelope is marshalled once per broadcast by the gateway; Data holds the
// typed payload for the event's Type.
type Event struct {
	ID           string    `json:"id"`
	TournamentID string    `json:"tournamentId"`
	Type         Type      `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Data         any       `json:"data"`
}

// Type identifies a subscriber-facing event.
type Type string

const (
	TypeTimerSync          Type = "timer-sync"
	TypeLevelChanged       Type = "level-changed"
	TypeTournamentStarted  Type = "tournament-started"
	TypeTournamentPaused   Type = "tournament-paused"
	TypeTournamentFinished Type = "tournament-finished"
	TypeDisplayCode        Type = "display-code"
)

// New wraps a payload in an envelope with a fresh event id.
func New(tournamentID string, typ Type, ts time.Time, payload any) *Event {
	return &Event{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		Type:         typ,
		Timestamp:    ts,
		Data:         payload,
	}
}

// TimerSyncPayload is the steady-state heartbeat driving every viewer's
// visible countdown, published once per second while a tournament runs.
type TimerSyncPayload struct {
	CurrentLevel int    `json:"currentLevel"`
	TimeLeft     int    `json:"timeLeft"`
	Status       string `json:"status"`
}

// LevelChangedPayload is published when the clock crosses into a new level.
type LevelChangedPayload struct {
	Level int `json:"level"`
}

// TournamentStartedPayload is published when a start or resume command
// brings a tournament's clock up.
type TournamentStartedPayload struct {
	TournamentID string    `json:"tournamentId"`
	CurrentLevel int       `json:"currentLevel"`
	StartedAt    time.Time `json:"startedAt"`
}

// TournamentPausedPayload is published when a pause command stops the clock.
type TournamentPausedPayload struct {
	TournamentID string    `json:"tournamentId"`
	PausedAt     time.Time `json:"pausedAt"`
}

// TournamentFinishedPayload is the terminal event for a tournament.
type TournamentFinishedPayload struct {
	TournamentID string    `json:"tournamentId"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// DisplayCodePayload carries the short pairing code sent once to an
// anonymous display connection.
type DisplayCodePayload struct {
	Code string `json:"code"`
}
