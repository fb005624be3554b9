package config

import (
	"time"

	"github.com/spf13/viper"
)

// Compiled-in venue endpoints, overridable via YAML or env.
const (
	okxPublicWS    = "wss://ws.okx.com:8443/ws/v5/public"
	okxPrivateWS   = "wss://ws.okx.com:8443/ws/v5/private"
	okxRESTBase    = "https://www.okx.com"
	bybitPublicWS  = "wss://stream.bybit.com/v5/public/linear"
	bybitPrivateWS = "wss://stream.bybit.com/v5/private"
	bybitRESTBase  = "https://api.bybit.com"
	binancePubWS   = "wss://fstream.binance.com/stream"
	binanceREST    = "https://fapi.binance.com"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("quoting.notional_per_trade", 50.0)
	v.SetDefault("quoting.max_notional", 1000.0)
	v.SetDefault("quoting.ma_window", 10)
	v.SetDefault("quoting.std_coeff", 1.0)
	v.SetDefault("quoting.min_width", 0.07)
	v.SetDefault("quoting.max_skew", 0.02)
	v.SetDefault("quoting.skew_position_cap", 300000.0)
	v.SetDefault("quoting.loop_interval", 25*time.Millisecond)
	v.SetDefault("quoting.params_refresh", 5*time.Second)
	v.SetDefault("quoting.client_id_prefix", "PerpPerpArb")
	v.SetDefault("quoting.perp_perp", true)

	v.SetDefault("aggregator.min_interval", 25*time.Millisecond)
	v.SetDefault("aggregator.ring_bound", 500)
	v.SetDefault("aggregator.depth", 5)

	v.SetDefault("hedge.max_retries", 3)
	v.SetDefault("hedge.overload_pause", 30*time.Second)
	v.SetDefault("hedge.error_threshold", 10)
	v.SetDefault("hedge.error_window", 300*time.Second)
	v.SetDefault("hedge.ping_enabled", false)
	v.SetDefault("hedge.ping_symbol", "BNBUSDT")
	v.SetDefault("hedge.ping_interval", 15*time.Second)
	v.SetDefault("hedge.ping_price", 400.0)
	v.SetDefault("hedge.ping_qty", 0.02)
	v.SetDefault("hedge.recon_dust_coin", 0.001)
	v.SetDefault("hedge.disconnect_alert", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func applyEndpointDefaults(name string, vc *VenueConfig) {
	switch name {
	case "okx":
		if vc.PublicWSURL == "" {
			vc.PublicWSURL = okxPublicWS
		}
		if vc.PrivateWSURL == "" {
			vc.PrivateWSURL = okxPrivateWS
		}
		if vc.RESTBaseURL == "" {
			vc.RESTBaseURL = okxRESTBase
		}
	case "bybit":
		if vc.PublicWSURL == "" {
			vc.PublicWSURL = bybitPublicWS
		}
		if vc.PrivateWSURL == "" {
			vc.PrivateWSURL = bybitPrivateWS
		}
		if vc.RESTBaseURL == "" {
			vc.RESTBaseURL = bybitRESTBase
		}
	case "binance":
		if vc.PublicWSURL == "" {
			vc.PublicWSURL = binancePubWS
		}
		if vc.RESTBaseURL == "" {
			vc.RESTBaseURL = binanceREST
		}
	}
	if vc.RecvWindowMS == 0 {
		vc.RecvWindowMS = 60000
	}
}
