package kv

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// ErrorBudget is the sliding window of hedge-failure timestamps. Record is
// only called on error, so a healthy process never touches the key. When the
// window holds threshold or more entries the kill switch is tripped.
type ErrorBudget struct {
	mu        sync.Mutex
	store     Store
	flags     *Flags
	threshold int
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewErrorBudget(store Store, flags *Flags, threshold int, window time.Duration, logger *slog.Logger) *ErrorBudget {
	return &ErrorBudget{
		store:     store,
		flags:     flags,
		threshold: threshold,
		window:    window,
		now:       time.Now,
		logger:    logger.With("component", "error_budget"),
	}
}

// Record appends one error timestamp, prunes entries older than the window,
// and trips the kill switch when the remainder reaches the threshold. It
// returns true when the switch tripped on this call.
func (b *ErrorBudget) Record(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var stamps []int64
	if raw, err := b.store.Get(ctx, keyErrorTimestamp); err == nil {
		if err := json.Unmarshal([]byte(raw), &stamps); err != nil {
			stamps = nil
		}
	}

	cutoff := now.Add(-b.window).UnixMilli()
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now.UnixMilli())

	raw, _ := json.Marshal(kept)
	if err := b.store.Set(ctx, keyErrorTimestamp, string(raw)); err != nil {
		b.logger.Warn("persist error budget failed", "error", err)
	}

	if len(kept) >= b.threshold {
		b.logger.Error("error budget exhausted, tripping kill switch",
			"errors", len(kept),
			"window", b.window,
		)
		if err := b.flags.TripStopBot(ctx); err != nil {
			b.logger.Error("trip kill switch failed", "error", err)
		}
		return true
	}
	return false
}
