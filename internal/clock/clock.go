package clock

import (
	"sort"
	"time"
)

// Level is one blind level of a tournament: a display number and a fixed
// duration. Levels are immutable; a tournament's ladder is ordered by Number.
type Level struct {
	Number      int `json:"levelNumber" yaml:"number"`
	DurationSec int `json:"durationSeconds" yaml:"duration_seconds"`
}

// State is the clock state derived for a single instant. It is ephemeral:
// callers recompute it from the same facts whenever they need it, and two
// computations at the same instant yield identical results.
type State struct {
	Finished     bool
	CurrentLevel int
	TimeLeftSec  int
}

// Derive maps a level ladder and the elapsed time since tournament start
// onto the current level and remaining whole seconds. The ladder is
// re-sorted defensively; inputs are not guaranteed pre-sorted. ok is false
// when the ladder is empty, which means "insufficient data, skip this tick"
// rather than a fatal condition.
//
// When elapsed reaches the end of the ladder the tournament is finished and
// CurrentLevel stays at the final level's number.
func Derive(levels []Level, elapsed time.Duration) (State, bool) {
	if len(levels) == 0 {
		return State{}, false
	}

	ladder := make([]Level, len(levels))
	copy(ladder, levels)
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].Number < ladder[j].Number })

	// Clock skew can put the reference instant slightly in the future.
	if elapsed < 0 {
		elapsed = 0
	}

	var offset time.Duration
	for _, lvl := range ladder {
		end := offset + time.Duration(lvl.DurationSec)*time.Second
		if elapsed < end {
			return State{
				CurrentLevel: lvl.Number,
				TimeLeftSec:  ceilSeconds(end - elapsed),
			}, true
		}
		offset = end
	}

	return State{
		Finished:     true,
		CurrentLevel: ladder[len(ladder)-1].Number,
	}, true
}

// FirstLevel returns the lowest level number in the ladder, or 0 for an
// empty ladder.
func FirstLevel(levels []Level) int {
	first := 0
	for _, lvl := range levels {
		if first == 0 || lvl.Number < first {
			first = lvl.Number
		}
	}
	return first
}

// ceilSeconds rounds up so a display never shows 0 while time is left.
func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
