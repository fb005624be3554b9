package config

import (
	"os"
	"path/filepath"
	"testing"

	"crossmm/pkg/types"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleYAML = `
symbols:
  - {base: BTC, venue: okx, market_type: perp, venue_symbol: BTC-USDT-SWAP}
  - {base: BTC, venue: bybit, market_type: perp, venue_symbol: BTCUSDT}
  - {base: ETH, venue: okx, market_type: perp, venue_symbol: ETH-USDT-SWAP}
contract_sizes:
  - {venue: okx, venue_symbol: BTC-USDT-SWAP, value: 0.01}
step_sizes:
  - {venue: bybit, venue_symbol: BTCUSDT, value: 0.001}
quoting:
  notional_per_trade: 200
`

func TestLoadAndLookups(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Quoting.NotionalPerTrade != 200 {
		t.Errorf("notional_per_trade = %v, want 200", cfg.Quoting.NotionalPerTrade)
	}
	// Untouched keys keep their defaults.
	if cfg.Quoting.MAWindow != 10 {
		t.Errorf("ma_window default = %v, want 10", cfg.Quoting.MAWindow)
	}
	if cfg.Aggregator.RingBound != 500 {
		t.Errorf("ring_bound default = %v, want 500", cfg.Aggregator.RingBound)
	}

	sym, ok := cfg.VenueSymbol("BTC", types.VenueOKX, types.MarketPerp)
	if !ok || sym != "BTC-USDT-SWAP" {
		t.Errorf("VenueSymbol = %q, %v, want BTC-USDT-SWAP", sym, ok)
	}
	if _, ok := cfg.VenueSymbol("SOL", types.VenueOKX, types.MarketPerp); ok {
		t.Error("VenueSymbol found unmapped base")
	}

	base, ok := cfg.BaseFor(types.VenueBybit, "BTCUSDT")
	if !ok || base != "BTC" {
		t.Errorf("BaseFor = %q, %v, want BTC", base, ok)
	}

	if got := cfg.ContractSize(types.VenueOKX, "BTC-USDT-SWAP"); got != 0.01 {
		t.Errorf("ContractSize = %v, want 0.01", got)
	}
	if got := cfg.ContractSize(types.VenueBybit, "BTCUSDT"); got != 1.0 {
		t.Errorf("ContractSize default = %v, want 1.0", got)
	}
	if got := cfg.StepSize(types.VenueBybit, "BTCUSDT"); got != 0.001 {
		t.Errorf("StepSize = %v, want 0.001", got)
	}
	if got := cfg.StepSize(types.VenueOKX, "BTC-USDT-SWAP"); got != 1.0 {
		t.Errorf("StepSize default = %v, want 1.0", got)
	}
}

func TestEndpointDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Venue(types.VenueOKX).PublicWSURL == "" {
		t.Error("okx public WS default missing")
	}
	if cfg.Venue(types.VenueBybit).PrivateWSURL == "" {
		t.Error("bybit private WS default missing")
	}
	if cfg.Venue(types.VenueBinance).RESTBaseURL == "" {
		t.Error("binance REST default missing")
	}
	if cfg.Venue(types.VenueOKX).RecvWindowMS != 60000 {
		t.Errorf("recv window default = %d, want 60000", cfg.Venue(types.VenueOKX).RecvWindowMS)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("OKX_API_KEY", "k")
	t.Setenv("OKX_SECRET_KEY", "s")
	t.Setenv("OKX_PASSPHRASE", "p")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	vc := cfg.Venue(types.VenueOKX)
	if vc.APIKey != "k" || vc.SecretKey != "s" || vc.Passphrase != "p" {
		t.Errorf("okx credentials = %q/%q/%q", vc.APIKey, vc.SecretKey, vc.Passphrase)
	}

	if err := cfg.RequireCredentials(types.VenueOKX); err != nil {
		t.Errorf("RequireCredentials(okx): %v", err)
	}
	if err := cfg.RequireCredentials(types.VenueBybit); err == nil {
		t.Error("RequireCredentials(bybit) passed without env vars")
	}
}

func TestRequireCredentialsDemandsPassphrase(t *testing.T) {
	t.Setenv("OKX_API_KEY", "k")
	t.Setenv("OKX_SECRET_KEY", "s")
	t.Setenv("OKX_PASSPHRASE", "")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.RequireCredentials(types.VenueOKX); err == nil {
		t.Error("RequireCredentials(okx) passed without passphrase")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero contract size", "contract_sizes:\n  - {venue: okx, venue_symbol: X, value: 0}\n"},
		{"negative step size", "step_sizes:\n  - {venue: okx, venue_symbol: X, value: -1}\n"},
		{"zero ma window", "quoting:\n  ma_window: 0\n"},
		{"zero ring bound", "aggregator:\n  ring_bound: 0\n"},
		{"zero retries", "hedge:\n  max_retries: 0\n"},
		{"zero error window", "hedge:\n  error_window: 0\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.yaml))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Error("Validate passed, want error")
			}
		})
	}
}
