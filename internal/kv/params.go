package kv

import (
	"context"
	"encoding/json"
	"time"
)

// BotParams is the per-instrument parameter record written by external jobs
// and read by the quoting engine at a fixed cadence.
type BotParams struct {
	NotionalPerTrade   float64 `json:"notional_per_trade"`
	MaxNotional        float64 `json:"max_notional"`
	MAWindow           int     `json:"ma_window"`
	StdCoeff           float64 `json:"std_coeff"`
	MinWidth           float64 `json:"min_width"`
	MaxSkew            float64 `json:"max_skew"`
	MarkPrice          float64 `json:"mark_price"`
	PositionSize       float64 `json:"position_size"`
	DefaultMaxNotional float64 `json:"default_max_notional"`
}

// TrendData is one entry of the trend_data hash, republished roughly every
// minute by an external job. M suffixes are the medium window, L the long.
type TrendData struct {
	BuySpreadMAM     float64 `json:"buy_spread_ma_M"`
	SellSpreadMAM    float64 `json:"sell_spread_ma_M"`
	BuySpreadSDM     float64 `json:"buy_spread_sd_M"`
	SellSpreadSDM    float64 `json:"sell_spread_sd_M"`
	BuySpreadMAL     float64 `json:"buy_spread_ma_L"`
	SellSpreadMAL    float64 `json:"sell_spread_ma_L"`
	BuySpreadSDL     float64 `json:"buy_spread_sd_L"`
	SellSpreadSDL    float64 `json:"sell_spread_sd_L"`
	CurrentBuySpread float64 `json:"current_buy_spread"`
	CurrentSellSprd  float64 `json:"current_sell_spread"`
}

// Params reads and writes the externally owned parameter surface.
type Params struct {
	store Store
}

func NewParams(store Store) *Params {
	return &Params{store: store}
}

func paramsKey(base string, perpPerp bool) string {
	if perpPerp {
		return "Perp_Perp_bot_params_" + base
	}
	return "bot_params_" + base
}

// Read fetches the parameter record for base. ErrNotFound surfaces when the
// external bootstrap job has not produced one yet.
func (p *Params) Read(ctx context.Context, base string, perpPerp bool) (BotParams, error) {
	raw, err := p.store.Get(ctx, paramsKey(base, perpPerp))
	if err != nil {
		return BotParams{}, err
	}
	var bp BotParams
	if err := json.Unmarshal([]byte(raw), &bp); err != nil {
		return BotParams{}, err
	}
	return bp, nil
}

// Write persists a parameter record. Production writers are external jobs;
// this is used by tests and by the reconciler to carry position_size forward.
func (p *Params) Write(ctx context.Context, base string, perpPerp bool, bp BotParams) error {
	raw, err := json.Marshal(bp)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, paramsKey(base, perpPerp), string(raw))
}

// Trend fetches the trend_data entry for base.
func (p *Params) Trend(ctx context.Context, base string) (TrendData, error) {
	raw, err := p.store.HGet(ctx, "trend_data", base+"/USDT")
	if err != nil {
		return TrendData{}, err
	}
	var td TrendData
	if err := json.Unmarshal([]byte(raw), &td); err != nil {
		return TrendData{}, err
	}
	return td, nil
}

// FundingAdjustment returns the funding-rate offset for base at time now.
// Within the first five minutes after a 4-hour boundary the offset reads as
// zero: funding has just paid and the incentive is gone.
func (p *Params) FundingAdjustment(ctx context.Context, base string, now time.Time) (float64, error) {
	if now.UTC().Hour()%4 == 0 && now.UTC().Minute() < 5 {
		return 0, nil
	}
	raw, err := p.store.Get(ctx, "funding_rates:"+base)
	if err != nil {
		if err == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	var rec struct {
		FRAdjustmentFactor float64 `json:"fr_adjustment_factor"`
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return 0, err
	}
	return rec.FRAdjustmentFactor, nil
}
