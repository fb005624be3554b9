// Package spread joins two venues' books for an instrument into spread
// snapshots: the entry and exit spread percentages plus the top levels of
// both books, appended to the instrument's ring buffer and forwarded to
// in-process consumers.
package spread

import (
	"context"
	"log/slog"
	"math"
	"time"

	"crossmm/internal/book"
	"crossmm/internal/kv"
	"crossmm/pkg/types"
)

const crossWarnInterval = time.Second

// Aggregator computes spread snapshots for one instrument pair. Venue A is
// the quoting venue, venue B the hedge venue.
type Aggregator struct {
	inst  types.Instrument
	roleA types.MarketType
	roleB types.MarketType
	books *book.Set
	rings *kv.Rings

	minInterval time.Duration
	depth       int

	out           chan types.SpreadSnapshot
	lastEmit      time.Time
	lastCrossWarn time.Time
	now           func() time.Time

	logger *slog.Logger
}

// New creates an aggregator over the shared book set. Snapshots are bounded
// to one per minInterval; book state still updates while emission is gated.
func New(inst types.Instrument, roleA, roleB types.MarketType, books *book.Set, rings *kv.Rings, minInterval time.Duration, depth int, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		inst:        inst,
		roleA:       roleA,
		roleB:       roleB,
		books:       books,
		rings:       rings,
		minInterval: minInterval,
		depth:       depth,
		out:         make(chan types.SpreadSnapshot, 64),
		now:         time.Now,
		logger:      logger.With("component", "aggregator", "base", inst.Base),
	}
}

// Snapshots returns the in-process consumer channel. When consumers lag, the
// oldest pending snapshot is dropped in favor of the newest.
func (a *Aggregator) Snapshots() <-chan types.SpreadSnapshot { return a.out }

// Run consumes book events until ctx is cancelled, applying each to the
// shared books before aggregating. Use HandleEvent instead when several
// aggregators share one event stream and the caller owns the apply.
func (a *Aggregator) Run(ctx context.Context, events <-chan types.BookEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			a.books.Apply(evt)
			a.HandleEvent(ctx, evt)
		}
	}
}

// HandleEvent aggregates after an already-applied book event. Events for
// other instruments are ignored.
func (a *Aggregator) HandleEvent(ctx context.Context, evt types.BookEvent) {
	if a.mine(evt) {
		a.maybeEmit(ctx)
	}
}

func (a *Aggregator) mine(evt types.BookEvent) bool {
	switch {
	case evt.Venue == a.inst.QuoteVenue && evt.Symbol == a.inst.QuoteSymbol:
		return true
	case evt.Venue == a.inst.HedgeVenue && evt.Symbol == a.inst.HedgeSymbol:
		return true
	}
	return false
}

// maybeEmit computes and publishes a snapshot unless the rate gate or the
// both-sides-present condition blocks it.
func (a *Aggregator) maybeEmit(ctx context.Context) {
	now := a.now()
	if now.Sub(a.lastEmit) < a.minInterval {
		return
	}

	snap, ok := a.compute(now)
	if !ok {
		return
	}
	a.lastEmit = now

	if err := a.rings.Append(ctx, a.RingKey(), snap); err != nil {
		a.logger.Warn("ring append failed", "error", err)
	}

	select {
	case a.out <- snap:
	default:
		// Drop the oldest pending snapshot so consumers always see the
		// freshest market state.
		select {
		case <-a.out:
		default:
		}
		select {
		case a.out <- snap:
		default:
		}
	}
}

// RingKey returns the instrument's ring-buffer key.
func (a *Aggregator) RingKey() string {
	return a.inst.RingKey(a.roleA, a.roleB)
}

// compute builds the snapshot from the current books. It returns false until
// both sides have at least one real level.
func (a *Aggregator) compute(now time.Time) (types.SpreadSnapshot, bool) {
	bookA := a.books.Get(a.inst.QuoteVenue, a.inst.QuoteSymbol)
	bookB := a.books.Get(a.inst.HedgeVenue, a.inst.HedgeSymbol)
	if !bookA.Synced() || !bookB.Synced() {
		return types.SpreadSnapshot{}, false
	}

	bidA, askA := bookA.TopOfBook()
	bidB, askB := bookB.TopOfBook()
	if bidA.Size == 0 || askA.Size == 0 || bidB.Size == 0 || askB.Size == 0 {
		return types.SpreadSnapshot{}, false
	}

	if bidA.Price >= askA.Price || bidB.Price >= askB.Price {
		if now.Sub(a.lastCrossWarn) >= crossWarnInterval {
			a.lastCrossWarn = now
			a.logger.Warn("crossed book",
				"bid_a", bidA.Price, "ask_a", askA.Price,
				"bid_b", bidB.Price, "ask_b", askB.Price,
			)
		}
	}

	bidsA, asksA := bookA.Levels(a.depth)
	bidsB, asksB := bookB.Levels(a.depth)

	tsMin := bookA.LastUpdateTS()
	if b := bookB.LastUpdateTS(); b < tsMin {
		tsMin = b
	}

	return types.SpreadSnapshot{
		Base:        a.inst.Base,
		Timestamp:   now.UnixMilli(),
		EntrySpread: 100 * (bidA.Price - askB.Price) / askB.Price,
		ExitSpread:  100 * (askA.Price - bidB.Price) / bidB.Price,
		BestBidA:    bidA.Price,
		BestAskA:    askA.Price,
		BestBidB:    bidB.Price,
		BestAskB:    askB.Price,
		BidsA:       stripPads(bidsA),
		AsksA:       stripPads(asksA),
		BidsB:       stripPads(bidsB),
		AsksB:       stripPads(asksB),
		TimeLag:     now.UnixMilli() - tsMin,
	}, true
}

// stripPads removes the sentinel padding levels so snapshots serialize
// cleanly (the ask sentinel price is +Inf, which JSON cannot carry).
func stripPads(levels []types.PriceLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, lv := range levels {
		if lv.Size == 0 || math.IsInf(lv.Price, 0) {
			continue
		}
		out = append(out, lv)
	}
	return out
}
