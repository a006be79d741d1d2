package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/feltops/blindclock/internal/clock"
)

// record is the live clock state for one active tournament. The registry is
// its exclusive owner: records are replaced or removed as whole values, and
// ticker goroutines identify themselves by generation so a superseded
// goroutine can never mutate a newer record.
type record struct {
	tournamentID string
	startedAt    time.Time
	levels       []clock.Level
	currentLevel int
	gen          uint64
	cancel       context.CancelFunc
}

// snapshot is the read-side copy of a record handed to a tick iteration.
type snapshot struct {
	startedAt    time.Time
	levels       []clock.Level
	currentLevel int
	gen          uint64
}

// Registry maps tournament ids to their live clock records. It is purely
// in-memory; a process restart loses everything and records are rebuilt on
// demand via recovery.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record
	nextGen uint64
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record)}
}

// put installs a record for a tournament, cancelling any existing timer for
// the same id first so at most one live timer exists per tournament. It
// returns the generation token the new ticker goroutine must carry.
func (r *Registry) put(id string, startedAt time.Time, levels []clock.Level, currentLevel int, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.records[id]; exists {
		old.cancel()
		log.Debug().Str("tournament_id", id).Msg("replaced existing clock record")
	}

	r.nextGen++
	r.records[id] = &record{
		tournamentID: id,
		startedAt:    startedAt,
		levels:       levels,
		currentLevel: currentLevel,
		gen:          r.nextGen,
		cancel:       cancel,
	}
	return r.nextGen
}

// get returns a copy of the tournament's record state, if present.
func (r *Registry) get(id string) (snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return snapshot{}, false
	}
	return snapshot{
		startedAt:    rec.startedAt,
		levels:       rec.levels,
		currentLevel: rec.currentLevel,
		gen:          rec.gen,
	}, true
}

func (r *Registry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

// advanceLevel moves the cached level forward. Stale generations and
// backwards moves are rejected; the cache only decreases via forceLevel.
func (r *Registry) advanceLevel(id string, gen uint64, level int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.gen != gen || level < rec.currentLevel {
		return false
	}
	rec.currentLevel = level
	return true
}

// forceLevel is the operator override path; unlike tick-driven advancement
// it may move the cached level backwards.
func (r *Registry) forceLevel(id string, level int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.currentLevel = level
	return true
}

// removeGen deletes a record and cancels its timer, but only when the
// caller still owns the current generation. Used by the finish path so a
// stale ticker cannot tear down a record it no longer owns.
func (r *Registry) removeGen(id string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.gen != gen {
		return false
	}
	rec.cancel()
	delete(r.records, id)
	return true
}

// remove deletes a record regardless of generation. Used by pause and
// finish commands.
func (r *Registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.cancel()
	delete(r.records, id)
	return true
}

// clear cancels and removes every record. Used on shutdown.
func (r *Registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.records {
		rec.cancel()
		delete(r.records, id)
	}
}

// Len reports the number of active clock records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
