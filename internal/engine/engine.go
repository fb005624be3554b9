// Package engine wires configuration into running components: loggers, venue
// feeds, order entry, and the market-data pipeline shared by the binaries.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"crossmm/internal/config"
	"crossmm/internal/venue"
	"crossmm/pkg/types"
)

// Process exit codes shared by all binaries.
const (
	ExitOK       = 0
	ExitConfig   = 2
	ExitUpstream = 70
)

// ExitError carries a process exit code out of a cobra RunE.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ConfigErr wraps err as a configuration failure (exit 2).
func ConfigErr(err error) error { return &ExitError{Code: ExitConfig, Err: err} }

// UpstreamErr wraps err as an unrecoverable upstream failure (exit 70).
func UpstreamErr(err error) error { return &ExitError{Code: ExitUpstream, Err: err} }

// NewLogger builds the process logger from the logging config.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// NewRESTClient builds a plain REST client against a venue's base URL, for
// unauthenticated endpoints like server time.
func NewRESTClient(cfg *config.Config, v types.Venue) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.Venue(v).RESTBaseURL).
		SetTimeout(venue.RequestTimeout)
}

// TimeSyncRefresh is how often venue server-clock offsets are refreshed.
const TimeSyncRefresh = 30 * time.Second

// NewVenueTimeSync builds the server-clock syncer for a venue, pointed at its
// public time endpoint. Callers start it with Run. Every venue rejects signed
// requests whose timestamp drifts too far, so order entry and authenticated
// feeds take one of these.
func NewVenueTimeSync(cfg *config.Config, v types.Venue, logger *slog.Logger) (*venue.TimeSync, error) {
	client := NewRESTClient(cfg, v)
	switch v {
	case types.VenueOKX:
		return venue.NewTimeSync(client, "/api/v5/public/time", "ts", logger), nil
	case types.VenueBybit:
		return venue.NewTimeSync(client, "/v5/market/time", "time", logger), nil
	case types.VenueBinance:
		return venue.NewTimeSync(client, "/fapi/v1/time", "serverTime", logger), nil
	}
	return nil, fmt.Errorf("unsupported venue %q", v)
}

// ContractMults collects the contract multipliers for a venue's symbols.
func ContractMults(cfg *config.Config, v types.Venue, symbols []string) map[string]float64 {
	mults := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		mults[sym] = cfg.ContractSize(v, sym)
	}
	return mults
}

// NewBookFeed builds the public book feed for one venue.
func NewBookFeed(cfg *config.Config, v types.Venue, symbols []string, logger *slog.Logger) (venue.BookFeed, error) {
	vc := cfg.Venue(v)
	switch v {
	case types.VenueOKX:
		return venue.NewOKXBookFeed(vc.PublicWSURL, symbols, ContractMults(cfg, v, symbols), logger), nil
	case types.VenueBybit:
		return venue.NewBybitBookFeed(vc.PublicWSURL, symbols, cfg.Aggregator.Depth, logger), nil
	case types.VenueBinance:
		return venue.NewBinanceBookFeed(vc.PublicWSURL, symbols, logger), nil
	}
	return nil, fmt.Errorf("unsupported venue %q", v)
}

// NewPrivateFeed builds the authenticated order feed for one venue. timeSync
// keeps login signatures on the venue's clock.
func NewPrivateFeed(cfg *config.Config, v types.Venue, symbols []string, timeSync *venue.TimeSync, logger *slog.Logger) (venue.PrivateFeed, error) {
	vc := cfg.Venue(v)
	switch v {
	case types.VenueOKX:
		return venue.NewOKXPrivateFeed(vc.PrivateWSURL, vc.APIKey, vc.SecretKey, vc.Passphrase,
			ContractMults(cfg, v, symbols), timeSync, logger), nil
	case types.VenueBybit:
		return venue.NewBybitPrivateFeed(vc.PrivateWSURL, vc.APIKey, vc.SecretKey, timeSync, logger), nil
	}
	return nil, fmt.Errorf("no private feed for venue %q", v)
}

// NewOrderEntry builds the REST order-entry client for one venue. timeSync
// keeps request signatures on the venue's clock.
func NewOrderEntry(cfg *config.Config, v types.Venue, symbols []string, timeSync *venue.TimeSync, logger *slog.Logger) (venue.OrderEntry, error) {
	vc := cfg.Venue(v)
	switch v {
	case types.VenueOKX:
		return venue.NewOKXOrderEntry(vc.RESTBaseURL, vc.APIKey, vc.SecretKey, vc.Passphrase,
			ContractMults(cfg, v, symbols), timeSync, logger), nil
	case types.VenueBybit:
		return venue.NewBybitOrderEntry(vc.RESTBaseURL, vc.APIKey, vc.SecretKey, vc.RecvWindowMS, timeSync, logger), nil
	case types.VenueBinance:
		return venue.NewBinanceOrderEntry(vc.RESTBaseURL, vc.APIKey, vc.SecretKey, vc.RecvWindowMS, timeSync, logger), nil
	}
	return nil, fmt.Errorf("unsupported venue %q", v)
}

// Instruments resolves bases to instruments through the symbol table. The
// hedge-side market type follows the perp-perp setting.
func Instruments(cfg *config.Config, bases []string, venueA, venueB types.Venue) ([]types.Instrument, error) {
	roleB := types.MarketPerp
	if !cfg.Quoting.PerpPerp {
		roleB = types.MarketSpot
	}

	out := make([]types.Instrument, 0, len(bases))
	for _, base := range bases {
		symA, ok := cfg.VenueSymbol(base, venueA, types.MarketPerp)
		if !ok {
			return nil, fmt.Errorf("no symbol mapping for %s on %s (perp)", base, venueA)
		}
		symB, ok := cfg.VenueSymbol(base, venueB, roleB)
		if !ok {
			return nil, fmt.Errorf("no symbol mapping for %s on %s (%s)", base, venueB, roleB)
		}
		out = append(out, types.Instrument{
			Base:        base,
			QuoteVenue:  venueA,
			HedgeVenue:  venueB,
			QuoteSymbol: symA,
			HedgeSymbol: symB,
		})
	}
	return out, nil
}

// HedgeRole returns the hedge-side market type per the perp-perp setting.
func HedgeRole(cfg *config.Config) types.MarketType {
	if cfg.Quoting.PerpPerp {
		return types.MarketPerp
	}
	return types.MarketSpot
}

// MergeBooks fans several venue feeds into one event channel. The output
// closes when every input channel closes or ctx is cancelled.
func MergeBooks(ctx context.Context, feeds ...venue.BookFeed) <-chan types.BookEvent {
	out := make(chan types.BookEvent, 256)
	var wg sync.WaitGroup
	for _, f := range feeds {
		wg.Add(1)
		go func(ch <-chan types.BookEvent) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				}
			}
		}(f.Books())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// SplitList parses a comma-separated CLI flag into trimmed entries.
func SplitList(flag string) []string {
	parts := strings.Split(flag, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
