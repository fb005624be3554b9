package kv

import (
	"context"
	"testing"
	"time"
)

func TestParamsRoundTripAndKeying(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewParams(store)

	if _, err := p.Read(ctx, "BTC", false); err != ErrNotFound {
		t.Errorf("Read(missing) = %v, want ErrNotFound", err)
	}

	bp := BotParams{NotionalPerTrade: 200, MaxNotional: 1000, MAWindow: 30, MarkPrice: 50000}
	if err := p.Write(ctx, "BTC", false, bp); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := p.Read(ctx, "BTC", false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != bp {
		t.Errorf("Read = %+v, want %+v", got, bp)
	}

	// Spot-hedged and perp-hedged records are distinct keys.
	if _, err := p.Read(ctx, "BTC", true); err != ErrNotFound {
		t.Errorf("Read(perp-perp) = %v, want ErrNotFound", err)
	}
	if k := paramsKey("BTC", true); k != "Perp_Perp_bot_params_BTC" {
		t.Errorf("perp-perp key = %q", k)
	}
	if k := paramsKey("BTC", false); k != "bot_params_BTC" {
		t.Errorf("spot key = %q", k)
	}
}

func TestTrendData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewParams(store)

	store.HSet(ctx, "trend_data", "BTC/USDT",
		`{"buy_spread_ma_M":0.1,"sell_spread_ma_M":0.3,"sell_spread_sd_L":0.05}`)

	td, err := p.Trend(ctx, "BTC")
	if err != nil {
		t.Fatalf("Trend: %v", err)
	}
	if td.BuySpreadMAM != 0.1 || td.SellSpreadMAM != 0.3 || td.SellSpreadSDL != 0.05 {
		t.Errorf("trend = %+v", td)
	}

	if _, err := p.Trend(ctx, "ETH"); err != ErrNotFound {
		t.Errorf("Trend(missing) = %v, want ErrNotFound", err)
	}
}

func TestFundingAdjustment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewParams(store)

	store.Set(ctx, "funding_rates:BTC", `{"fr_adjustment_factor":0.02}`)

	midWindow := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	fr, err := p.FundingAdjustment(ctx, "BTC", midWindow)
	if err != nil || fr != 0.02 {
		t.Errorf("FundingAdjustment = %v, %v, want 0.02, nil", fr, err)
	}

	// Just after a 4-hour boundary the adjustment reads as zero.
	justPaid := time.Date(2025, 6, 1, 8, 3, 0, 0, time.UTC)
	fr, err = p.FundingAdjustment(ctx, "BTC", justPaid)
	if err != nil || fr != 0 {
		t.Errorf("FundingAdjustment after boundary = %v, %v, want 0, nil", fr, err)
	}

	// Missing key is not an error, just no adjustment.
	fr, err = p.FundingAdjustment(ctx, "ETH", midWindow)
	if err != nil || fr != 0 {
		t.Errorf("FundingAdjustment(missing) = %v, %v, want 0, nil", fr, err)
	}
}
