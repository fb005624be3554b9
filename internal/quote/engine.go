package quote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"crossmm/internal/config"
	"crossmm/internal/kv"
	"crossmm/internal/venue"
	"crossmm/pkg/types"
)

// errStop signals a clean loop exit after the kill switch tripped.
var errStop = errors.New("kill switch tripped")

const errorSleep = 500 * time.Millisecond

// liveOrder is the single order the engine may have resting at any time.
type liveOrder struct {
	clientID string
	side     types.Side
	price    float64
	qty      float64
}

// Engine runs the quoting loop for one instrument. All I/O goes through the
// KV store and the quoting venue's order entry; market state arrives via the
// instrument's spread ring.
type Engine struct {
	inst    types.Instrument
	cfg     config.QuotingConfig
	ringKey string

	rings  *kv.Rings
	params *kv.Params
	flags  *kv.Flags
	entry  venue.OrderEntry

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	// loop state
	bp          kv.BotParams
	lastRefresh time.Time
	lastExtPos  float64
	inventory   float64 // USD notional delta since the last external position update
	adjustment  float64 // 10% of the first observed best bid
	live        *liveOrder
}

// NewEngine creates the quoting engine for inst. ringKey names the spread
// ring written by the aggregator for the same instrument pair.
func NewEngine(inst types.Instrument, ringKey string, cfg config.QuotingConfig, rings *kv.Rings, params *kv.Params, flags *kv.Flags, entry venue.OrderEntry, logger *slog.Logger) *Engine {
	return &Engine{
		inst:    inst,
		cfg:     cfg,
		ringKey: ringKey,
		rings:   rings,
		params:  params,
		flags:   flags,
		entry:   entry,
		logger:  logger.With("component", "quote_engine", "base", inst.Base),
		now:     time.Now,
		sleep:   sleepCtx,
		bp: kv.BotParams{
			NotionalPerTrade: cfg.NotionalPerTrade,
			MaxNotional:      cfg.MaxNotional,
			MAWindow:         cfg.MAWindow,
			StdCoeff:         cfg.StdCoeff,
			MinWidth:         cfg.MinWidth,
			MaxSkew:          cfg.MaxSkew,
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Run executes the loop at the configured cadence until ctx is cancelled or
// the kill switch trips. A kill-switch exit is clean: the live order is
// cancelled and Run returns nil.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()

	e.logger.Info("quoting engine started",
		"quote_venue", e.inst.QuoteVenue,
		"hedge_venue", e.inst.HedgeVenue,
		"ring", e.ringKey,
	)

	for {
		select {
		case <-ctx.Done():
			e.cancelLive(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			if err := e.step(ctx); err != nil {
				if errors.Is(err, errStop) {
					e.logger.Info("kill switch observed, exiting")
					return nil
				}
				return err
			}
		}
	}
}

// step runs one loop iteration.
func (e *Engine) step(ctx context.Context) error {
	if e.flags.StopBot(ctx) {
		e.cancelLive(ctx)
		return errStop
	}

	now := e.now()
	e.refreshParams(ctx, now)

	snaps, err := e.rings.LastN(ctx, e.ringKey, e.bp.MAWindow)
	if err != nil {
		e.logger.Warn("ring read failed", "error", err)
		return nil
	}
	if len(snaps) == 0 {
		return nil
	}
	latest := snaps[len(snaps)-1]

	if e.adjustment == 0 && latest.BestBidA > 0 {
		e.adjustment = latest.BestBidA * 0.10
		e.logger.Info("adjustment buffer captured", "adjustment", e.adjustment)
	}

	entryMA, exitMA := spreadMAs(snaps, now.UnixMilli())

	td, err := e.params.Trend(ctx, e.inst.Base)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		e.logger.Warn("trend read failed", "error", err)
	}
	funding, err := e.params.FundingAdjustment(ctx, e.inst.Base, now)
	if err != nil {
		e.logger.Warn("funding read failed", "error", err)
	}

	posNotional := e.bp.PositionSize*e.bp.MarkPrice + e.inventory
	bands := ComputeBands(td, funding, posNotional, e.cfg.SkewPositionCap,
		e.bp.StdCoeff, e.bp.MinWidth, e.bp.MaxSkew)

	side, ok := e.pickSide(posNotional, entryMA, exitMA, bands)
	limit, inRange := 0.0, false
	if ok {
		limit, inRange = e.limitPrice(ctx, side, latest, entryMA, exitMA, bands)
	}

	e.logger.Debug("iteration",
		"entry_ma", entryMA,
		"exit_ma", exitMA,
		"sell_bound", bands.SellBound,
		"buy_bound", bands.BuyBound,
		"skew", bands.Skew,
		"funding", bands.Funding,
		"position_notional", posNotional,
		"side", side,
		"limit", limit,
		"in_range", inRange,
	)

	e.manageOrder(ctx, side, limit, inRange)
	return nil
}

// refreshParams re-reads bot parameters at the configured cadence and resets
// the local inventory counter whenever the externally reported position
// changes (evidence of upstream reconciliation).
func (e *Engine) refreshParams(ctx context.Context, now time.Time) {
	if !e.lastRefresh.IsZero() && now.Sub(e.lastRefresh) < e.cfg.ParamsRefresh {
		return
	}
	e.lastRefresh = now

	bp, err := e.params.Read(ctx, e.inst.Base, e.cfg.PerpPerp)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			e.logger.Warn("params read failed", "error", err)
		}
		return
	}
	if bp.PositionSize != e.lastExtPos {
		e.logger.Info("external position updated, resetting inventory counter",
			"old", e.lastExtPos, "new", bp.PositionSize)
		e.lastExtPos = bp.PositionSize
		e.inventory = 0
	}
	e.bp = bp
}

// pickSide chooses the quoting side. The inventory cap is checked first; only
// then does distance-to-band decide. The second return is false when neither
// side may trade.
func (e *Engine) pickSide(posNotional, entryMA, exitMA float64, bands Bands) (types.Side, bool) {
	if e.bp.MaxNotional == 0 && e.bp.NotionalPerTrade == 0 {
		return "", false
	}
	if posNotional+e.bp.NotionalPerTrade > e.bp.MaxNotional {
		return types.Sell, true
	}
	if posNotional-e.bp.NotionalPerTrade < -e.bp.MaxNotional {
		return types.Buy, true
	}

	sellDist := bands.SellBound - entryMA
	buyDist := exitMA - bands.BuyBound
	if sellDist < buyDist {
		return types.Sell, true
	}
	return types.Buy, true
}

// limitPrice starts from the quoting venue's top-of-book and pushes the
// price off-market by the adjustment buffer when the spread is outside the
// band or the overload pause is set. inRange holds iff the limit still
// equals top-of-book.
func (e *Engine) limitPrice(ctx context.Context, side types.Side, latest types.SpreadSnapshot, entryMA, exitMA float64, bands Bands) (float64, bool) {
	paused := e.flags.ServerOverloadPaused(ctx)

	if side == types.Sell {
		limit := latest.BestAskA
		if entryMA < bands.SellBound || paused {
			limit += e.adjustment
		}
		return limit, limit == latest.BestAskA
	}

	limit := latest.BestBidA
	if exitMA > bands.BuyBound || paused {
		limit -= e.adjustment
	}
	return limit, limit == latest.BestBidA
}

// manageOrder advances the NO_LIVE_ORDER / LIVE_ORDER state machine.
func (e *Engine) manageOrder(ctx context.Context, side types.Side, limit float64, inRange bool) {
	switch {
	case inRange && e.live == nil:
		if limit <= 0 {
			return
		}
		qty := e.bp.NotionalPerTrade / limit
		clientID := NewClientID(e.cfg.ClientIDPrefix)
		_, err := e.entry.PlacePostOnly(ctx, e.inst.QuoteSymbol, side, limit, qty, clientID)
		if err != nil {
			e.handleOrderError(ctx, err, "place")
			return
		}
		e.live = &liveOrder{clientID: clientID, side: side, price: limit, qty: qty}
		e.logger.Info("order placed", "side", side, "price", limit, "qty", qty, "client_id", clientID)

	case inRange && e.live != nil:
		if e.live.side != side {
			// Side flip: cancel now, place on the new side next iteration.
			e.cancelLive(ctx)
			return
		}
		if e.live.price == limit {
			return
		}
		// Re-derive the size so the resting notional tracks the new price.
		qty := e.bp.NotionalPerTrade / limit
		if err := e.entry.Amend(ctx, e.inst.QuoteSymbol, e.live.clientID, side, limit, qty); err != nil {
			e.handleOrderError(ctx, err, "amend")
			return
		}
		e.live.price = limit
		e.live.qty = qty

	case !inRange && e.live != nil:
		e.cancelLive(ctx)
	}
}

func (e *Engine) cancelLive(ctx context.Context) {
	if e.live == nil {
		return
	}
	if err := e.entry.Cancel(ctx, e.inst.QuoteSymbol, e.live.clientID); err != nil {
		e.handleOrderError(ctx, err, "cancel")
		return
	}
	e.logger.Info("order cancelled", "client_id", e.live.clientID)
	e.live = nil
}

// handleOrderError applies the error taxonomy: a post-only race where the
// order already traded counts as a fill; throttling conditions sleep;
// not-found clears the slot; everything else is logged with full state.
func (e *Engine) handleOrderError(ctx context.Context, err error, op string) {
	switch venue.KindOf(err) {
	case venue.KindOrderFilledOrCanceled:
		if e.live != nil {
			if e.live.side == types.Buy {
				e.inventory += e.bp.NotionalPerTrade
			} else {
				e.inventory -= e.bp.NotionalPerTrade
			}
			e.logger.Info("order already filled or canceled, treating as fill",
				"op", op, "side", e.live.side, "inventory", e.inventory)
			e.live = nil
		}

	case venue.KindModificationLimit, venue.KindServerOverloaded,
		venue.KindServiceUnavailable, venue.KindNotionalBelowMinimum:
		e.logger.Warn("throttled order operation, backing off", "op", op, "error", err)
		e.sleep(ctx, errorSleep)

	case venue.KindOrderNotFound:
		e.logger.Warn("order not found, clearing slot", "op", op, "error", err)
		e.live = nil

	default:
		e.logger.Error("order operation failed",
			"op", op,
			"error", err,
			"live", e.live != nil,
			"inventory", e.inventory,
			"adjustment", e.adjustment,
		)
	}
}
