package clock

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var ladder = []Level{
	{Number: 1, DurationSec: 300},
	{Number: 2, DurationSec: 300},
	{Number: 3, DurationSec: 300},
}

func TestDeriveProgression(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		want    State
	}{
		{"start", 0, State{CurrentLevel: 1, TimeLeftSec: 300}},
		{"level boundary", 300 * time.Second, State{CurrentLevel: 2, TimeLeftSec: 300}},
		{"last second of last level", 899 * time.Second, State{CurrentLevel: 3, TimeLeftSec: 1}},
		{"total duration reached", 900 * time.Second, State{Finished: true, CurrentLevel: 3}},
		{"well past the end", 2 * time.Hour, State{Finished: true, CurrentLevel: 3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Derive(ladder, tc.elapsed)
			if !ok {
				t.Fatal("Derive returned ok=false for a valid ladder")
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Derive(%v) mismatch (-want +got):\n%s", tc.elapsed, diff)
			}
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	elapsed := 299*time.Second + 200*time.Millisecond
	first, ok1 := Derive(ladder, elapsed)
	second, ok2 := Derive(ladder, elapsed)
	if !ok1 || !ok2 {
		t.Fatal("Derive returned ok=false")
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("two derivations at the same instant differ:\n%s", diff)
	}
}

func TestDeriveCeilingRounding(t *testing.T) {
	// 299.2s into a 300s level: 0.8s left must display as 1, never 0.
	got, ok := Derive(ladder, 299*time.Second+200*time.Millisecond)
	if !ok {
		t.Fatal("Derive returned ok=false")
	}
	if got.Finished {
		t.Fatal("tournament reported finished mid-level")
	}
	if got.TimeLeftSec != 1 {
		t.Errorf("TimeLeftSec = %d, want 1", got.TimeLeftSec)
	}
}

func TestDeriveNegativeElapsedClamp(t *testing.T) {
	// Reference instant 5s in the future, e.g. clock skew.
	got, ok := Derive(ladder, -5*time.Second)
	if !ok {
		t.Fatal("Derive returned ok=false")
	}
	want := State{CurrentLevel: 1, TimeLeftSec: 300}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("negative elapsed not clamped (-want +got):\n%s", diff)
	}
}

func TestDeriveSortsUnorderedLadder(t *testing.T) {
	shuffled := []Level{
		{Number: 3, DurationSec: 300},
		{Number: 1, DurationSec: 300},
		{Number: 2, DurationSec: 300},
	}
	got, ok := Derive(shuffled, 301*time.Second)
	if !ok {
		t.Fatal("Derive returned ok=false")
	}
	if got.CurrentLevel != 2 {
		t.Errorf("CurrentLevel = %d, want 2", got.CurrentLevel)
	}
}

func TestDeriveNonContiguousNumbers(t *testing.T) {
	gappy := []Level{
		{Number: 2, DurationSec: 60},
		{Number: 5, DurationSec: 60},
	}
	got, ok := Derive(gappy, 61*time.Second)
	if !ok {
		t.Fatal("Derive returned ok=false")
	}
	if got.CurrentLevel != 5 {
		t.Errorf("CurrentLevel = %d, want 5", got.CurrentLevel)
	}
}

func TestDeriveEmptyLadder(t *testing.T) {
	if _, ok := Derive(nil, time.Minute); ok {
		t.Fatal("Derive on empty ladder: got ok=true, want ok=false")
	}
}

func TestDeriveDoesNotMutateInput(t *testing.T) {
	shuffled := []Level{
		{Number: 2, DurationSec: 60},
		{Number: 1, DurationSec: 60},
	}
	Derive(shuffled, 0)
	if shuffled[0].Number != 2 {
		t.Error("Derive reordered the caller's slice")
	}
}

func TestFirstLevel(t *testing.T) {
	if got := FirstLevel(ladder); got != 1 {
		t.Errorf("FirstLevel = %d, want 1", got)
	}
	if got := FirstLevel(nil); got != 0 {
		t.Errorf("FirstLevel(nil) = %d, want 0", got)
	}
}
