package kv

import (
	"context"
	"errors"
	"time"
)

// Well-known coordination keys.
const (
	keyStopBot        = "stop_bot"
	keyOnlyExit       = "only_exit"
	keyOverloadPause  = "server_overload_pause"
	keyErrorTimestamp = "hedge_error_timestamps"
)

// Flags wraps the process-coordination flags. The kill switch is one-way:
// Flags never writes "false" after a trip, and readers treat any value other
// than "true" as not tripped.
type Flags struct {
	store Store
}

func NewFlags(store Store) *Flags {
	return &Flags{store: store}
}

// StopBot reports whether the kill switch is tripped. Store errors read as
// not tripped so a flaky backend cannot halt quoting by itself.
func (f *Flags) StopBot(ctx context.Context) bool {
	v, err := f.store.Get(ctx, keyStopBot)
	return err == nil && v == "true"
}

// TripStopBot trips the kill switch. There is no untrip.
func (f *Flags) TripStopBot(ctx context.Context) error {
	return f.store.Set(ctx, keyStopBot, "true")
}

// ResetStopBot arms the switch at process start. It refuses to clear an
// already-tripped switch.
func (f *Flags) ResetStopBot(ctx context.Context) error {
	if f.StopBot(ctx) {
		return errors.New("kv: stop_bot already tripped")
	}
	return f.store.Set(ctx, keyStopBot, "false")
}

// SetOnlyExit writes the only-exit signal consumed by the external
// position-sizing job: 0 forbids inventory-increasing trades.
func (f *Flags) SetOnlyExit(ctx context.Context, v int) error {
	if v == 0 {
		return f.store.Set(ctx, keyOnlyExit, "0")
	}
	return f.store.Set(ctx, keyOnlyExit, "1")
}

// PauseServerOverload sets the overload flag; it auto-clears after ttl.
func (f *Flags) PauseServerOverload(ctx context.Context, ttl time.Duration) error {
	return f.store.SetTTL(ctx, keyOverloadPause, "1", ttl)
}

// ServerOverloadPaused reports whether the overload flag is currently set.
func (f *Flags) ServerOverloadPaused(ctx context.Context) bool {
	ok, err := f.store.Exists(ctx, keyOverloadPause)
	return err == nil && ok
}
