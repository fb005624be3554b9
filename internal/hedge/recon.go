package hedge

import (
	"context"
	"log/slog"
	"math"

	"crossmm/internal/alert"
	"crossmm/internal/quote"
	"crossmm/internal/venue"
	"crossmm/pkg/types"
)

// Reconciler compares venue-reported positions for an instrument and closes
// any mismatch with a market order on the hedge venue. It runs after hedge
// retries are exhausted, when the local residual can no longer be trusted.
type Reconciler struct {
	inst       types.Instrument
	quoteEntry venue.OrderEntry
	hedgeEntry venue.OrderEntry
	step       float64
	dust       float64 // mismatch below this is left alone, coin units
	alerts     *alert.Sink
	logger     *slog.Logger
}

func NewReconciler(inst types.Instrument, quoteEntry, hedgeEntry venue.OrderEntry, step, dust float64, alerts *alert.Sink, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		inst:       inst,
		quoteEntry: quoteEntry,
		hedgeEntry: hedgeEntry,
		step:       step,
		dust:       dust,
		alerts:     alerts,
		logger:     logger.With("component", "reconciler", "base", inst.Base),
	}
}

// Reconcile fetches both signed positions in coin units. A fully hedged book
// sums to zero; any excess beyond the dust threshold is offset on the hedge
// venue, floored to the step.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	qpos, err := r.quoteEntry.Position(ctx, r.inst.QuoteSymbol)
	if err != nil {
		return err
	}
	hpos, err := r.hedgeEntry.Position(ctx, r.inst.HedgeSymbol)
	if err != nil {
		return err
	}

	mismatch := qpos + hpos
	r.logger.Info("position check",
		"quote_position", qpos,
		"hedge_position", hpos,
		"mismatch", mismatch,
	)
	if math.Abs(mismatch) <= r.dust {
		return nil
	}

	qty := math.Floor(math.Abs(mismatch)/r.step) * r.step
	if qty == 0 {
		return nil
	}
	side := types.Sell
	if mismatch < 0 {
		side = types.Buy
	}

	clientID := quote.NewClientID("Recon")
	rep, err := r.hedgeEntry.PlaceMarket(ctx, r.inst.HedgeSymbol, side, qty, clientID)
	if err != nil {
		return err
	}

	r.logger.Warn("position reconciled",
		"side", side,
		"qty", qty,
		"order_id", rep.OrderID,
	)
	r.alerts.Notify(alert.Notification{
		Reason:     "position_reconciled",
		Instrument: r.inst.Base,
		Venue:      string(r.inst.HedgeVenue),
		Residual:   mismatch,
	})
	return nil
}
