// Package hedge turns fills on the quoting venue into compensating market
// orders on the hedge venue. A per-instrument residual accumulator absorbs
// the difference between fill sizes and the hedge venue's quantity step, so
// nothing is ever lost to rounding: whatever cannot be hedged now is carried
// into the next fill.
package hedge

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crossmm/internal/alert"
	"crossmm/internal/config"
	"crossmm/internal/kv"
	"crossmm/internal/quote"
	"crossmm/internal/venue"
	"crossmm/pkg/types"
)

// Executor consumes the quoting venue's private order stream for one
// instrument and hedges every fill on the hedge venue. It keeps running after
// the kill switch trips so outstanding residuals still get drained.
type Executor struct {
	inst   types.Instrument
	cfg    config.HedgeConfig
	prefix string
	step   decimal.Decimal

	entry  venue.OrderEntry // hedge venue
	flags  *kv.Flags
	budget *kv.ErrorBudget
	recon  *Reconciler // may be nil
	alerts *alert.Sink

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	residual decimal.Decimal
	seen     map[string]fillMark
}

// seenRetention is how long a terminal order's dedup entry is kept. Replays
// arrive within seconds of a reconnect, so an hour is ample headroom while
// keeping the map bounded over long runs.
const seenRetention = time.Hour

// fillMark tracks the highest cumulative fill handled for one client ID.
// done is set once the order reached a terminal status.
type fillMark struct {
	acc  float64
	done time.Time
}

// NewExecutor creates the hedge executor. prefix is the strategy's client-ID
// prefix; events from other strategies on the same account are ignored. step
// is the hedge venue's quantity step for this symbol.
func NewExecutor(inst types.Instrument, cfg config.HedgeConfig, prefix string, step float64, entry venue.OrderEntry, flags *kv.Flags, budget *kv.ErrorBudget, recon *Reconciler, alerts *alert.Sink, logger *slog.Logger) *Executor {
	return &Executor{
		inst:   inst,
		cfg:    cfg,
		prefix: prefix,
		step:   decimal.NewFromFloat(step),
		entry:  entry,
		flags:  flags,
		budget: budget,
		recon:  recon,
		alerts: alerts,
		logger: logger.With("component", "hedge_executor", "base", inst.Base),
		now:    time.Now,
		sleep:  sleepCtx,
		seen:   make(map[string]fillMark),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Residual returns the current unhedged amount in coin units.
func (e *Executor) Residual() float64 {
	return e.residual.InexactFloat64()
}

// Run processes private order events in arrival order until ctx is cancelled
// or the channel closes.
func (e *Executor) Run(ctx context.Context, events <-chan types.OrderEvent) error {
	e.logger.Info("hedge executor started",
		"quote_venue", e.inst.QuoteVenue,
		"hedge_venue", e.inst.HedgeVenue,
		"step", e.step,
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ctx, evt)
		}
	}
}

// Handle processes one order event. Exported so tests can drive the executor
// with scripted events.
func (e *Executor) Handle(ctx context.Context, evt types.OrderEvent) {
	if evt.Symbol != e.inst.QuoteSymbol {
		return
	}
	if !strings.HasPrefix(evt.ClientID, e.prefix) {
		return
	}
	e.pruneSeen()
	if evt.Status == types.StatusCanceled {
		e.markDone(evt.ClientID)
		return
	}

	// Reconnects replay events; the cumulative fill size makes duplicates
	// detectable regardless of how the venue slices partial fills.
	mark := e.seen[evt.ClientID]
	fill := evt.AccFillSize - mark.acc
	if fill <= 0 {
		if evt.Status == types.StatusFilled {
			e.markDone(evt.ClientID)
		}
		return
	}
	mark.acc = evt.AccFillSize
	if evt.Status == types.StatusFilled {
		mark.done = e.now()
	}
	e.seen[evt.ClientID] = mark

	hedgeSide := evt.Side.Opposite()
	amount := decimal.NewFromFloat(fill)
	if hedgeSide == types.Buy {
		e.residual = e.residual.Add(amount)
	} else {
		e.residual = e.residual.Sub(amount)
	}

	e.logger.Info("fill received",
		"client_id", evt.ClientID,
		"fill_side", evt.Side,
		"fill_size", fill,
		"price", evt.Price,
		"residual", e.residual,
	)

	e.placeHedge(ctx, evt.ClientID, evt.Price)
}

// markDone stamps a tracked order as terminal so pruneSeen can expire it.
func (e *Executor) markDone(clientID string) {
	if mark, ok := e.seen[clientID]; ok && mark.done.IsZero() {
		mark.done = e.now()
		e.seen[clientID] = mark
	}
}

// pruneSeen drops dedup entries whose orders have been terminal for longer
// than the retention window, keeping the map bounded over long runs.
func (e *Executor) pruneSeen() {
	cutoff := e.now().Add(-seenRetention)
	for id, mark := range e.seen {
		if !mark.done.IsZero() && mark.done.Before(cutoff) {
			delete(e.seen, id)
		}
	}
}

// placeHedge floors the residual to the step and places the hedge order.
// Anything below one step stays in the accumulator for a later fill.
func (e *Executor) placeHedge(ctx context.Context, fillClientID string, fillPrice float64) {
	intended := e.residual.Abs().Div(e.step).Floor().Mul(e.step)
	if intended.IsZero() {
		return
	}
	side := types.Sell
	sign := decimal.NewFromInt(-1)
	if e.residual.IsPositive() {
		side = types.Buy
		sign = decimal.NewFromInt(1)
	}

	// The hedge reuses the fill's client ID so the two legs can be joined in
	// venue records; the random suffix keeps it unique where required.
	clientID := fillClientID + quote.NewClientID("")[:4]
	qty := intended.InexactFloat64()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		rep, err := e.entry.PlaceMarket(ctx, e.inst.HedgeSymbol, side, qty, clientID)
		if err == nil {
			e.residual = e.residual.Sub(sign.Mul(intended))
			e.logger.Info("hedge placed",
				"side", side,
				"qty", qty,
				"order_id", rep.OrderID,
				"avg_price", rep.AvgPrice,
				"residual", e.residual,
			)
			return
		}
		lastErr = err
		kind := venue.KindOf(err)

		switch kind {
		case venue.KindMarginInsufficient:
			// Fatal for new inventory, not for the process: tell the sizing
			// job to stop growing the position and alert the operator.
			if ferr := e.flags.SetOnlyExit(ctx, 0); ferr != nil {
				e.logger.Error("set only_exit failed", "error", ferr)
			}
			e.alerts.Notify(alert.Notification{
				Reason:     "margin_insufficient",
				Instrument: e.inst.Base,
				Venue:      string(e.inst.HedgeVenue),
				Residual:   e.Residual(),
				Error:      err.Error(),
			})
			return

		case venue.KindServerOverloaded:
			if ferr := e.flags.PauseServerOverload(ctx, e.cfg.OverloadPause); ferr != nil {
				e.logger.Error("set overload pause failed", "error", ferr)
			}
		}

		// Unknown conditions retry too; only a definitive rejection breaks
		// out early.
		if !kind.Retryable() && kind != venue.KindUnknown {
			e.logger.Error("hedge rejected", "attempt", attempt, "error", err)
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		e.logger.Warn("hedge attempt failed, backing off",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		e.sleep(ctx, backoff)
	}

	// Retries exhausted: reconcile against venue-reported positions and
	// charge the error budget.
	e.logger.Error("hedge failed after retries", "error", lastErr, "residual", e.residual)
	if e.recon != nil {
		if err := e.recon.Reconcile(ctx); err != nil {
			e.logger.Error("reconciliation failed", "error", err)
		}
	}
	if e.budget.Record(ctx) {
		e.alerts.Notify(alert.Notification{
			Reason:     "kill_switch_tripped",
			Instrument: e.inst.Base,
			Venue:      string(e.inst.HedgeVenue),
			Residual:   e.Residual(),
			Error:      lastErr.Error(),
		})
	}
}
