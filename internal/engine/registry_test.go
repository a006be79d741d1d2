package engine

import (
	"testing"
	"time"

	"github.com/feltops/blindclock/internal/clock"
)

var testLevels = []clock.Level{{Number: 1, DurationSec: 60}}

func TestRegistryPutCancelsPrevious(t *testing.T) {
	r := NewRegistry()
	firstCancelled := false

	gen1 := r.put("T1", time.Now(), testLevels, 1, func() { firstCancelled = true })
	gen2 := r.put("T1", time.Now(), testLevels, 1, func() {})

	if !firstCancelled {
		t.Error("replacing a record did not cancel the previous timer")
	}
	if gen1 == gen2 {
		t.Error("replacement record reused the old generation")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	snap, ok := r.get("T1")
	if !ok {
		t.Fatal("record missing after replacement")
	}
	if snap.gen != gen2 {
		t.Errorf("live generation = %d, want %d", snap.gen, gen2)
	}
}

func TestRegistryAdvanceLevelMonotonic(t *testing.T) {
	r := NewRegistry()
	gen := r.put("T1", time.Now(), testLevels, 2, func() {})

	if !r.advanceLevel("T1", gen, 3) {
		t.Fatal("forward advance rejected")
	}
	if r.advanceLevel("T1", gen, 1) {
		t.Error("backwards advance accepted; cached level must be monotonic")
	}
	if r.advanceLevel("T1", gen+1, 4) {
		t.Error("advance with stale generation accepted")
	}

	snap, _ := r.get("T1")
	if snap.currentLevel != 3 {
		t.Errorf("currentLevel = %d, want 3", snap.currentLevel)
	}
}

func TestRegistryForceLevelAllowsBackwards(t *testing.T) {
	r := NewRegistry()
	r.put("T1", time.Now(), testLevels, 5, func() {})

	if !r.forceLevel("T1", 2) {
		t.Fatal("forceLevel rejected")
	}
	snap, _ := r.get("T1")
	if snap.currentLevel != 2 {
		t.Errorf("currentLevel = %d, want 2", snap.currentLevel)
	}

	if r.forceLevel("T2", 1) {
		t.Error("forceLevel on unknown id reported success")
	}
}

func TestRegistryRemoveGen(t *testing.T) {
	r := NewRegistry()
	cancelled := false
	gen := r.put("T1", time.Now(), testLevels, 1, func() { cancelled = true })

	if r.removeGen("T1", gen+1) {
		t.Error("removeGen with stale generation succeeded")
	}
	if !r.removeGen("T1", gen) {
		t.Fatal("removeGen with live generation failed")
	}
	if !cancelled {
		t.Error("removeGen did not cancel the timer")
	}
	if r.has("T1") {
		t.Error("record still present after removeGen")
	}
	if r.removeGen("T1", gen) {
		t.Error("second removeGen succeeded on a deleted record")
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	cancels := 0
	r.put("T1", time.Now(), testLevels, 1, func() { cancels++ })
	r.put("T2", time.Now(), testLevels, 1, func() { cancels++ })

	r.clear()

	if cancels != 2 {
		t.Errorf("cancels = %d, want 2", cancels)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
