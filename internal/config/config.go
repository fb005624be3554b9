// Package config defines all configuration for the cross-exchange engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// credentials supplied via <VENUE>_API_KEY / <VENUE>_SECRET_KEY environment
// variables (plus OKX_PASSPHRASE for OKX).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crossmm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Venues        map[string]VenueConfig `mapstructure:"venues"`
	Symbols       []SymbolMapping        `mapstructure:"symbols"`
	ContractSizes []SizeEntry            `mapstructure:"contract_sizes"`
	StepSizes     []SizeEntry            `mapstructure:"step_sizes"`
	Quoting       QuotingConfig          `mapstructure:"quoting"`
	Aggregator    AggregatorConfig       `mapstructure:"aggregator"`
	Hedge         HedgeConfig            `mapstructure:"hedge"`
	KV            KVConfig               `mapstructure:"kv"`
	Alert         AlertConfig            `mapstructure:"alert"`
	Logging       LoggingConfig          `mapstructure:"logging"`
}

// VenueConfig holds one venue's endpoints and credentials. Endpoints have
// compiled-in defaults (see defaults.go); credentials come only from env.
type VenueConfig struct {
	PublicWSURL  string `mapstructure:"public_ws_url"`
	PrivateWSURL string `mapstructure:"private_ws_url"`
	RESTBaseURL  string `mapstructure:"rest_base_url"`
	APIKey       string `mapstructure:"-"`
	SecretKey    string `mapstructure:"-"`
	Passphrase   string `mapstructure:"-"`
	RecvWindowMS int    `mapstructure:"recv_window_ms"`
}

// SymbolMapping is one row of the {base, venue, market_type} → venue_symbol table.
type SymbolMapping struct {
	Base        string `mapstructure:"base"`
	Venue       string `mapstructure:"venue"`
	MarketType  string `mapstructure:"market_type"`
	VenueSymbol string `mapstructure:"venue_symbol"`
}

// SizeEntry is one row of the contract-size or step-size table.
type SizeEntry struct {
	Venue       string  `mapstructure:"venue"`
	VenueSymbol string  `mapstructure:"venue_symbol"`
	Value       float64 `mapstructure:"value"`
}

// QuotingConfig tunes the per-instrument quoting engines.
//
//   - NotionalPerTrade / MaxNotional: USD size of one order and the inventory cap.
//   - MAWindow: how many recent spread snapshots the loop fetches.
//   - StdCoeff, MinWidth, MaxSkew: band shaping (see quote.Bands).
//   - LoopInterval: cadence floor of the quoting loop.
//   - ParamsRefresh: how often bot parameters are re-read from the KV store.
//   - ClientIDPrefix: strategy prefix on every client order ID.
type QuotingConfig struct {
	NotionalPerTrade float64       `mapstructure:"notional_per_trade"`
	MaxNotional      float64       `mapstructure:"max_notional"`
	MAWindow         int           `mapstructure:"ma_window"`
	StdCoeff         float64       `mapstructure:"std_coeff"`
	MinWidth         float64       `mapstructure:"min_width"`
	MaxSkew          float64       `mapstructure:"max_skew"`
	SkewPositionCap  float64       `mapstructure:"skew_position_cap"`
	LoopInterval     time.Duration `mapstructure:"loop_interval"`
	ParamsRefresh    time.Duration `mapstructure:"params_refresh"`
	ClientIDPrefix   string        `mapstructure:"client_id_prefix"`
	PerpPerp         bool          `mapstructure:"perp_perp"`
}

// AggregatorConfig tunes the spread aggregator.
type AggregatorConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	RingBound   int           `mapstructure:"ring_bound"`
	Depth       int           `mapstructure:"depth"`
}

// HedgeConfig tunes the hedge executor.
type HedgeConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	OverloadPause   time.Duration `mapstructure:"overload_pause"`
	ErrorThreshold  int           `mapstructure:"error_threshold"`
	ErrorWindow     time.Duration `mapstructure:"error_window"`
	PingEnabled     bool          `mapstructure:"ping_enabled"`
	PingSymbol      string        `mapstructure:"ping_symbol"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PingPrice       float64       `mapstructure:"ping_price"`
	PingQty         float64       `mapstructure:"ping_qty"`
	ReconDustCoin   float64       `mapstructure:"recon_dust_coin"`
	DisconnectAlert time.Duration `mapstructure:"disconnect_alert"`
}

// KVConfig selects the shared store backend. An empty RedisAddr selects the
// in-process backend; the engine behaves identically either way.
type KVConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

// AlertConfig points at the operator webhook sink.
type AlertConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides for credentials.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is tolerated: defaults plus env cover the
		// single-binary cases, and Validate still gates the result.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Venues == nil {
		cfg.Venues = make(map[string]VenueConfig)
	}
	for _, name := range []string{"okx", "bybit", "binance"} {
		vc := cfg.Venues[name]
		applyEndpointDefaults(name, &vc)
		upper := strings.ToUpper(name)
		vc.APIKey = os.Getenv(upper + "_API_KEY")
		vc.SecretKey = os.Getenv(upper + "_SECRET_KEY")
		if name == "okx" {
			vc.Passphrase = os.Getenv("OKX_PASSPHRASE")
		}
		cfg.Venues[name] = vc
	}

	return &cfg, nil
}

// Venue returns the configuration for one venue.
func (c *Config) Venue(v types.Venue) VenueConfig {
	return c.Venues[string(v)]
}

// VenueSymbol resolves {base, venue, market_type} through the symbol table.
func (c *Config) VenueSymbol(base string, venue types.Venue, mt types.MarketType) (string, bool) {
	for _, m := range c.Symbols {
		if m.Base == base && m.Venue == string(venue) && m.MarketType == string(mt) {
			return m.VenueSymbol, true
		}
	}
	return "", false
}

// BaseFor is the reverse lookup: the canonical base listed under
// {venue, venue_symbol} in the symbol table, whatever the market type.
func (c *Config) BaseFor(venue types.Venue, symbol string) (string, bool) {
	for _, m := range c.Symbols {
		if m.Venue == string(venue) && m.VenueSymbol == symbol {
			return m.Base, true
		}
	}
	return "", false
}

// ContractSize returns the contract multiplier for {venue, venue_symbol}.
// Defaults to 1.0 when absent.
func (c *Config) ContractSize(venue types.Venue, symbol string) float64 {
	for _, e := range c.ContractSizes {
		if e.Venue == string(venue) && e.VenueSymbol == symbol {
			return e.Value
		}
	}
	return 1.0
}

// StepSize returns the smallest orderable quantity increment for
// {venue, venue_symbol}. Defaults to 1.0 when absent.
func (c *Config) StepSize(venue types.Venue, symbol string) float64 {
	for _, e := range c.StepSizes {
		if e.Venue == string(venue) && e.VenueSymbol == symbol {
			return e.Value
		}
	}
	return 1.0
}

// Validate checks value ranges. Credential presence is checked by the
// binaries that need them (md-aggregator runs without any).
func (c *Config) Validate() error {
	for _, e := range c.ContractSizes {
		if e.Value <= 0 {
			return fmt.Errorf("contract size for %s %s must be > 0", e.Venue, e.VenueSymbol)
		}
	}
	for _, e := range c.StepSizes {
		if e.Value <= 0 {
			return fmt.Errorf("step size for %s %s must be > 0", e.Venue, e.VenueSymbol)
		}
	}
	if c.Quoting.NotionalPerTrade < 0 || c.Quoting.MaxNotional < 0 {
		return fmt.Errorf("quoting notionals must be >= 0")
	}
	if c.Quoting.MAWindow <= 0 {
		return fmt.Errorf("quoting.ma_window must be > 0")
	}
	if c.Aggregator.RingBound <= 0 {
		return fmt.Errorf("aggregator.ring_bound must be > 0")
	}
	if c.Aggregator.MinInterval <= 0 {
		return fmt.Errorf("aggregator.min_interval must be > 0")
	}
	if c.Hedge.MaxRetries <= 0 {
		return fmt.Errorf("hedge.max_retries must be > 0")
	}
	if c.Hedge.ErrorThreshold <= 0 || c.Hedge.ErrorWindow <= 0 {
		return fmt.Errorf("hedge error budget must be positive")
	}
	return nil
}

// RequireCredentials returns an error unless API key and secret are set for
// every named venue.
func (c *Config) RequireCredentials(venues ...types.Venue) error {
	for _, v := range venues {
		vc := c.Venue(v)
		if vc.APIKey == "" || vc.SecretKey == "" {
			return fmt.Errorf("missing credentials for %s (set %s_API_KEY / %s_SECRET_KEY)",
				v, strings.ToUpper(string(v)), strings.ToUpper(string(v)))
		}
		if v == types.VenueOKX && vc.Passphrase == "" {
			return fmt.Errorf("missing OKX_PASSPHRASE")
		}
	}
	return nil
}
