package kv

import (
	"context"
	"testing"
	"time"
)

func TestKillSwitchIsOneWay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := NewFlags(NewMemoryStore())

	if f.StopBot(ctx) {
		t.Error("fresh store reads as tripped")
	}
	if err := f.ResetStopBot(ctx); err != nil {
		t.Fatalf("ResetStopBot on fresh store: %v", err)
	}
	if f.StopBot(ctx) {
		t.Error("armed switch reads as tripped")
	}

	if err := f.TripStopBot(ctx); err != nil {
		t.Fatalf("TripStopBot: %v", err)
	}
	if !f.StopBot(ctx) {
		t.Error("tripped switch reads as not tripped")
	}

	// A restart must not silently clear a trip.
	if err := f.ResetStopBot(ctx); err == nil {
		t.Error("ResetStopBot cleared a tripped switch")
	}
	if !f.StopBot(ctx) {
		t.Error("switch no longer tripped after refused reset")
	}
}

func TestOnlyExit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	f := NewFlags(store)

	if err := f.SetOnlyExit(ctx, 0); err != nil {
		t.Fatalf("SetOnlyExit(0): %v", err)
	}
	if v, _ := store.Get(ctx, keyOnlyExit); v != "0" {
		t.Errorf("only_exit = %q, want 0", v)
	}
	if err := f.SetOnlyExit(ctx, 1); err != nil {
		t.Fatalf("SetOnlyExit(1): %v", err)
	}
	if v, _ := store.Get(ctx, keyOnlyExit); v != "1" {
		t.Errorf("only_exit = %q, want 1", v)
	}
}

func TestServerOverloadPauseExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := NewFlags(NewMemoryStore())

	if f.ServerOverloadPaused(ctx) {
		t.Error("paused before any overload")
	}
	if err := f.PauseServerOverload(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("PauseServerOverload: %v", err)
	}
	if !f.ServerOverloadPaused(ctx) {
		t.Error("not paused right after overload")
	}
	time.Sleep(40 * time.Millisecond)
	if f.ServerOverloadPaused(ctx) {
		t.Error("still paused after ttl")
	}
}
