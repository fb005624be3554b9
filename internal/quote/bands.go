// Package quote implements the per-instrument quoting engine: trading bands
// derived from trend data, funding and inventory skew; side selection; and a
// single-live-order state machine over post-only orders.
package quote

import (
	"math"

	"crossmm/internal/kv"
)

// Bands are the per-iteration trade thresholds. A sell (entry) quote is
// desirable when the entry spread is at or above SellBound; a buy (exit)
// quote when the exit spread is at or below BuyBound.
type Bands struct {
	SellBound float64
	BuyBound  float64
	MidMA     float64
	Skew      float64
	Funding   float64
}

// Skew converts a position-to-cap ratio into a band offset. The square keeps
// small inventories nearly unskewed while pushing hard near the cap; the sign
// is negative so a long position lowers both bounds and favors selling.
func Skew(position, cap, maxSkew float64) float64 {
	if cap <= 0 {
		return 0
	}
	c := position / cap
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return -sign(c) * c * c * maxSkew
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// ComputeBands derives the trading bands from trend data. The mid is the
// medium-window moving-average midpoint; the width is the larger of the
// long-window stddev scaled by stdCoeff and the configured minimum width.
// Funding applies one-sided: a positive adjustment only raises the sell
// bound, a negative one only lowers the buy bound. Skew shifts both.
func ComputeBands(td kv.TrendData, funding, position, cap, stdCoeff, minWidth, maxSkew float64) Bands {
	midMA := (td.BuySpreadMAM + td.SellSpreadMAM) / 2
	skew := Skew(position, cap, maxSkew)

	sell := math.Max(midMA+td.SellSpreadSDL*stdCoeff, midMA+minWidth/2)
	buy := math.Min(midMA-td.BuySpreadSDL*stdCoeff, midMA-minWidth/2)

	return Bands{
		SellBound: sell + math.Max(funding, 0) + skew,
		BuyBound:  buy + math.Min(funding, 0) + skew,
		MidMA:     midMA,
		Skew:      skew,
		Funding:   funding,
	}
}
