package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/feltops/blindclock/internal/backend"
	"github.com/feltops/blindclock/internal/clock"
	"github.com/feltops/blindclock/internal/events"
)

const (
	tickPeriod    = time.Second
	notifyTimeout = 5 * time.Second
)

// ErrNotRunning is returned when a command expects a tournament the
// authoritative record does not report as running.
var ErrNotRunning = errors.New("engine: tournament is not running")

// Backend is the engine's view of the authoritative tournament API.
type Backend interface {
	FetchTournament(ctx context.Context, id string) (*backend.Tournament, error)
	PatchTournament(ctx context.Context, id string, patch backend.Patch) error
	StartTournament(ctx context.Context, id string) (*backend.Tournament, error)
}

// Publisher fans an event out to every subscriber of a tournament's channel.
// Delivery is at-most-once per subscriber, best-effort, unacknowledged.
type Publisher interface {
	Publish(tournamentID string, event *events.Event)
}

// Engine owns the live tournament clocks: one 1-second ticker goroutine per
// active tournament, all derived state recomputed from the backend's start
// time on every tick. Nothing here is persisted; after a restart clocks are
// rebuilt on demand via EnsureRunning.
type Engine struct {
	registry *Registry
	backend  Backend
	pub      Publisher
	clock    clockwork.Clock
}

// New creates a clock engine. Pass clockwork.NewRealClock() in production;
// tests use a fake clock.
func New(b Backend, pub Publisher, clk clockwork.Clock) *Engine {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Engine{
		registry: NewRegistry(),
		backend:  b,
		pub:      pub,
		clock:    clk,
	}
}

// Start asks the backend to transition the tournament to running, seeds a
// clock record from the fresh facts it returns, and begins ticking.
func (e *Engine) Start(ctx context.Context, id string) error {
	t, err := e.backend.StartTournament(ctx, id)
	if err != nil {
		return fmt.Errorf("start tournament %s: %w", id, err)
	}

	lvl := e.seed(t)
	e.publish(id, events.TypeTournamentStarted, events.TournamentStartedPayload{
		TournamentID: id,
		CurrentLevel: lvl,
		StartedAt:    t.StartTime,
	})

	log.Info().Str("tournament_id", id).Time("started_at", t.StartTime).Msg("tournament clock started")
	return nil
}

// Pause stops local ticking and best-effort notifies the backend. Wall-clock
// time keeps elapsing against the stored start time; a gapless resume
// requires the backend to issue a fresh reference instant, which it does via
// the start endpoint and resume control events carrying fresh facts.
func (e *Engine) Pause(ctx context.Context, id string) {
	if !e.registry.remove(id) {
		log.Debug().Str("tournament_id", id).Msg("pause for tournament with no active clock")
		return
	}

	status := backend.StatusPaused
	e.notifyBackend(id, backend.Patch{Status: &status})
	e.publish(id, events.TypeTournamentPaused, events.TournamentPausedPayload{
		TournamentID: id,
		PausedAt:     e.clock.Now(),
	})
	log.Info().Str("tournament_id", id).Msg("tournament clock paused")
}

// Resume transitions the tournament back to running in the backend and
// revives its clock from the durable record.
func (e *Engine) Resume(ctx context.Context, id string) error {
	status := backend.StatusRunning
	if err := e.backend.PatchTournament(ctx, id, backend.Patch{Status: &status}); err != nil {
		return fmt.Errorf("resume tournament %s: %w", id, err)
	}
	if !e.recoverTournament(ctx, id) {
		return fmt.Errorf("resume tournament %s: %w", id, ErrNotRunning)
	}
	return nil
}

// Finish stops the clock and marks the tournament finished. A finish for an
// unknown id is a no-op.
func (e *Engine) Finish(ctx context.Context, id string) {
	if !e.registry.remove(id) {
		log.Debug().Str("tournament_id", id).Msg("finish for tournament with no active clock")
		return
	}

	status := backend.StatusFinished
	e.notifyBackend(id, backend.Patch{Status: &status})
	e.publish(id, events.TypeTournamentFinished, events.TournamentFinishedPayload{
		TournamentID: id,
		FinishedAt:   e.clock.Now(),
	})
	log.Info().Str("tournament_id", id).Msg("tournament clock finished by command")
}

// OverrideLevel applies an operator-forced level, bypassing the monotonic
// guard that tick-driven advancement obeys. The override came from the
// authoritative side, so the backend is not patched back.
func (e *Engine) OverrideLevel(id string, level int) {
	if !e.registry.forceLevel(id, level) {
		log.Debug().Str("tournament_id", id).Int("level", level).Msg("level override for tournament with no active clock")
		return
	}
	e.publish(id, events.TypeLevelChanged, events.LevelChangedPayload{Level: level})
	log.Info().Str("tournament_id", id).Int("level", level).Msg("level overridden")
}

// EnsureRunning makes sure the tournament's clock is ticking if the
// authoritative record says it should be. A registry hit publishes one
// immediate sync so a fresh subscriber sees state without waiting out the
// current tick; a hit whose ladder already ran out is torn down on the spot
// rather than reported as ticking. A miss triggers recovery from the
// backend. Returns true when the tournament is ticking.
func (e *Engine) EnsureRunning(ctx context.Context, id string) bool {
	if snap, ok := e.registry.get(id); ok {
		st, ok := clock.Derive(snap.levels, e.clock.Now().Sub(snap.startedAt))
		if !ok {
			return true
		}
		if st.Finished {
			e.finish(id, snap.gen)
			return false
		}
		e.publishSync(id, st)
		return true
	}
	return e.recoverTournament(ctx, id)
}

// SeedFromFacts installs a clock record from timing facts already carried
// by a control event, skipping the backend round-trip.
func (e *Engine) SeedFromFacts(id string, startedAt time.Time, levels []clock.Level, currentLevel int) {
	e.seed(&backend.Tournament{
		ID:           id,
		StartTime:    startedAt,
		Levels:       levels,
		CurrentLevel: currentLevel,
	})
	log.Info().Str("tournament_id", id).Time("started_at", startedAt).Msg("clock seeded from control event facts")
}

// Snapshot returns the current derived state for an active clock.
func (e *Engine) Snapshot(id string) (clock.State, bool) {
	snap, ok := e.registry.get(id)
	if !ok {
		return clock.State{}, false
	}
	return clock.Derive(snap.levels, e.clock.Now().Sub(snap.startedAt))
}

// Shutdown cancels every active ticker.
func (e *Engine) Shutdown() {
	e.registry.clear()
	log.Info().Msg("clock engine shut down")
}

// recoverTournament rebuilds a clock record from the durable source of
// truth. It proceeds only when the record reports a running status and
// carries a usable start time and level ladder; anything else means the
// tournament is not supposed to be ticking and recovery is a silent no-op.
func (e *Engine) recoverTournament(ctx context.Context, id string) bool {
	t, err := e.backend.FetchTournament(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("tournament_id", id).Msg("recovery fetch failed")
		return false
	}
	if !strings.EqualFold(t.Status, backend.StatusRunning) {
		log.Debug().Str("tournament_id", id).Str("status", t.Status).Msg("tournament not running; recovery skipped")
		return false
	}
	if t.StartTime.IsZero() || len(t.Levels) == 0 {
		log.Warn().Str("tournament_id", id).Msg("tournament running but missing timing facts; recovery skipped")
		return false
	}

	e.seed(t)
	log.Info().Str("tournament_id", id).Int("level", t.CurrentLevel).Msg("tournament clock recovered")
	return true
}

// seed installs a registry record for the tournament and starts its ticker.
// The cached level trusts the durable record's last known value so the
// first tick does not announce a spurious transition. Returns the cached
// level the record was seeded with.
func (e *Engine) seed(t *backend.Tournament) int {
	lvl := t.CurrentLevel
	if lvl == 0 {
		if st, ok := clock.Derive(t.Levels, e.clock.Now().Sub(t.StartTime)); ok {
			lvl = st.CurrentLevel
		} else {
			lvl = clock.FirstLevel(t.Levels)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	gen := e.registry.put(t.ID, t.StartTime, t.Levels, lvl, cancel)
	go e.run(ctx, t.ID, gen)
	return lvl
}

// run drives one tournament's ticker. The first tick happens immediately so
// subscribers see state the moment a clock comes up.
func (e *Engine) run(ctx context.Context, id string, gen uint64) {
	if !e.tick(id, gen) {
		return
	}

	ticker := e.clock.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !e.tick(id, gen) {
				return
			}
		}
	}
}

// tick runs one recomputation cycle. It returns false when the ticker
// goroutine should stop: record gone, generation superseded, or tournament
// finished. A missing record is the defensive guard, not the expected path;
// normal teardown cancels the ticker before deleting the record.
func (e *Engine) tick(id string, gen uint64) bool {
	snap, ok := e.registry.get(id)
	if !ok || snap.gen != gen {
		return false
	}
	if snap.startedAt.IsZero() {
		log.Debug().Str("tournament_id", id).Msg("clock record missing start time; skipping tick")
		return true
	}

	st, ok := clock.Derive(snap.levels, e.clock.Now().Sub(snap.startedAt))
	if !ok {
		log.Debug().Str("tournament_id", id).Msg("insufficient clock data; skipping tick")
		return true
	}

	if st.Finished {
		e.finish(id, gen)
		return false
	}

	if st.CurrentLevel != snap.currentLevel {
		if e.registry.advanceLevel(id, gen, st.CurrentLevel) {
			e.publish(id, events.TypeLevelChanged, events.LevelChangedPayload{Level: st.CurrentLevel})
			lvl := st.CurrentLevel
			e.notifyBackend(id, backend.Patch{CurrentLevel: &lvl})
			log.Info().Str("tournament_id", id).Int("level", st.CurrentLevel).Msg("level transition")
		}
	}

	e.publishSync(id, st)
	return true
}

// finish tears a tournament down at the end of its ladder. Generation-gated
// so a stale ticker that races the teardown performs no side effects.
func (e *Engine) finish(id string, gen uint64) {
	if !e.registry.removeGen(id, gen) {
		return
	}

	status := backend.StatusFinished
	e.notifyBackend(id, backend.Patch{Status: &status})
	e.publish(id, events.TypeTournamentFinished, events.TournamentFinishedPayload{
		TournamentID: id,
		FinishedAt:   e.clock.Now(),
	})
	log.Info().Str("tournament_id", id).Msg("tournament finished")
}

func (e *Engine) publishSync(id string, st clock.State) {
	e.publish(id, events.TypeTimerSync, events.TimerSyncPayload{
		CurrentLevel: st.CurrentLevel,
		TimeLeft:     st.TimeLeftSec,
		Status:       backend.StatusRunning,
	})
}

func (e *Engine) publish(id string, typ events.Type, payload any) {
	e.pub.Publish(id, events.New(id, typ, e.clock.Now(), payload))
}

// notifyBackend issues a fire-and-forget PATCH. Each attempt carries its own
// timeout and error boundary; a failure is logged and never reaches the
// tick loop or the caller.
func (e *Engine) notifyBackend(id string, patch backend.Patch) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.backend.PatchTournament(ctx, id, patch); err != nil {
			log.Warn().Err(err).Str("tournament_id", id).Msg("backend notification failed")
		}
	}()
}
