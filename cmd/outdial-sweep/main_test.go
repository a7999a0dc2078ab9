package main

import (
	"testing"
	"time"

	"github.com/haasonsaas/outdial/internal/livekit"
)

func TestFilterStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	age := func(d time.Duration) int64 { return now.Add(-d).Unix() }

	rooms := []livekit.Room{
		{Name: "call-old-empty", CreationTime: age(2 * time.Hour)},
		{Name: "call-old-busy", CreationTime: age(2 * time.Hour), NumParticipants: 2},
		{Name: "call-fresh", CreationTime: age(5 * time.Minute)},
		{Name: "lobby", CreationTime: age(3 * time.Hour)},
	}

	t.Run("prefix age and occupancy", func(t *testing.T) {
		stale := filterStale(rooms, "call-", 30*time.Minute, false, now)
		if len(stale) != 1 || stale[0].Name != "call-old-empty" {
			t.Fatalf("stale = %+v, want only call-old-empty", stale)
		}
	})

	t.Run("include active", func(t *testing.T) {
		stale := filterStale(rooms, "call-", 30*time.Minute, true, now)
		if len(stale) != 2 {
			t.Fatalf("got %d rooms, want 2", len(stale))
		}
	})

	t.Run("empty prefix matches everything", func(t *testing.T) {
		stale := filterStale(rooms, "", 30*time.Minute, true, now)
		names := map[string]bool{}
		for _, r := range stale {
			names[r.Name] = true
		}
		if !names["lobby"] {
			t.Fatal("expected lobby to match with no prefix filter")
		}
	})

	t.Run("nothing stale", func(t *testing.T) {
		if stale := filterStale(rooms, "call-", 24*time.Hour, true, now); len(stale) != 0 {
			t.Fatalf("stale = %+v, want none", stale)
		}
	})
}
