// md-aggregator runs the market-data pipeline alone: venue book feeds, the
// order-book assembler, and the spread aggregators writing per-instrument
// ring buffers to the KV store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"crossmm/internal/alert"
	"crossmm/internal/book"
	"crossmm/internal/config"
	"crossmm/internal/engine"
	"crossmm/internal/kv"
	"crossmm/internal/spread"
	"crossmm/internal/venue"
	"crossmm/pkg/types"
)

var (
	configPath string
	pairsFlag  string
)

func main() {
	root := &cobra.Command{
		Use:          "md-aggregator",
		Short:        "Run venue book feeds and spread aggregation",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	root.Flags().StringVar(&pairsFlag, "pairs", "", "instrument pairs, e.g. okx:BTC-USDT-SWAP~bybit:BTCUSDT,...")
	root.MarkFlagRequired("pairs")

	if err := root.Execute(); err != nil {
		var ee *engine.ExitError
		if errors.As(err, &ee) {
			os.Exit(ee.Code)
		}
		os.Exit(1)
	}
}

// pair is one parsed --pairs entry.
type pair struct {
	inst types.Instrument
}

func parsePairs(cfg *config.Config, flag string) ([]pair, error) {
	var pairs []pair
	for _, entry := range engine.SplitList(flag) {
		sides := strings.Split(entry, "~")
		if len(sides) != 2 {
			return nil, fmt.Errorf("malformed pair %q (want venueA:symA~venueB:symB)", entry)
		}
		vA, symA, okA := strings.Cut(sides[0], ":")
		vB, symB, okB := strings.Cut(sides[1], ":")
		if !okA || !okB {
			return nil, fmt.Errorf("malformed pair %q", entry)
		}
		base, ok := cfg.BaseFor(types.Venue(vA), symA)
		if !ok {
			base, ok = cfg.BaseFor(types.Venue(vB), symB)
		}
		if !ok {
			return nil, fmt.Errorf("pair %q: no base in symbol table", entry)
		}
		pairs = append(pairs, pair{inst: types.Instrument{
			Base:        base,
			QuoteVenue:  types.Venue(vA),
			HedgeVenue:  types.Venue(vB),
			QuoteSymbol: symA,
			HedgeSymbol: symB,
		}})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs given")
	}
	return pairs, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return engine.ConfigErr(err)
	}
	if err := cfg.Validate(); err != nil {
		return engine.ConfigErr(err)
	}
	logger := engine.NewLogger(cfg.Logging)

	pairs, err := parsePairs(cfg, pairsFlag)
	if err != nil {
		return engine.ConfigErr(err)
	}

	store := kv.Open(cfg.KV.RedisAddr, cfg.KV.RedisDB)
	defer store.Close()
	rings := kv.NewRings(store, cfg.Aggregator.RingBound)
	books := book.NewSet(cfg.Aggregator.Depth)
	flags := kv.NewFlags(store)
	budget := kv.NewErrorBudget(store, flags, cfg.Hedge.ErrorThreshold, cfg.Hedge.ErrorWindow, logger)
	alerts := alert.NewSink(cfg.Alert.WebhookURL, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go alerts.Run(ctx)

	// One feed per venue, subscribed to every symbol that venue serves.
	perVenue := make(map[types.Venue][]string)
	for _, p := range pairs {
		perVenue[p.inst.QuoteVenue] = append(perVenue[p.inst.QuoteVenue], p.inst.QuoteSymbol)
		perVenue[p.inst.HedgeVenue] = append(perVenue[p.inst.HedgeVenue], p.inst.HedgeSymbol)
	}

	fatal := make(chan error, len(perVenue)+len(pairs))
	var wg sync.WaitGroup
	var feeds []venue.BookFeed
	for v, symbols := range perVenue {
		feed, err := engine.NewBookFeed(cfg, v, symbols, logger)
		if err != nil {
			return engine.ConfigErr(err)
		}
		feeds = append(feeds, feed)
		if tf, ok := feed.(interface{ OnTrouble(func(error)) }); ok {
			tf.OnTrouble(func(err error) {
				budget.Record(context.WithoutCancel(ctx))
				alerts.Notify(alert.Notification{
					Reason: "venue_disconnect",
					Venue:  string(v),
					Error:  err.Error(),
				})
			})
		}
		wg.Add(1)
		go func(f venue.BookFeed) {
			defer wg.Done()
			if err := f.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				fatal <- err
			}
		}(feed)
	}

	roleB := engine.HedgeRole(cfg)
	var aggs []*spread.Aggregator
	for _, p := range pairs {
		agg := spread.New(p.inst, types.MarketPerp, roleB, books, rings,
			cfg.Aggregator.MinInterval, cfg.Aggregator.Depth, logger)
		logger.Info("aggregator started", "base", p.inst.Base, "ring", agg.RingKey())
		aggs = append(aggs, agg)
	}

	// Single dispatcher: apply each event once, then offer it to every
	// aggregator. Keeps per-venue arrival order intact.
	events := engine.MergeBooks(ctx, feeds...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for evt := range events {
			books.Apply(evt)
			for _, a := range aggs {
				a.HandleEvent(ctx, evt)
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		wg.Wait()
		return nil
	case err := <-fatal:
		logger.Error("unrecoverable upstream failure", "error", err)
		stop()
		wg.Wait()
		return engine.UpstreamErr(err)
	}
}
