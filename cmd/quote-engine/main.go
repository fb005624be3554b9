// quote-engine runs the per-instrument quoting loops: read spread rings,
// derive bands, and manage a single resting post-only order on the quoting
// venue. With the in-memory KV backend it also runs the market-data pipeline
// in-process, since no external aggregator can share the rings.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"crossmm/internal/alert"
	"crossmm/internal/book"
	"crossmm/internal/config"
	"crossmm/internal/engine"
	"crossmm/internal/kv"
	"crossmm/internal/quote"
	"crossmm/internal/spread"
	"crossmm/internal/venue"
	"crossmm/pkg/types"
)

var (
	configPath      string
	instrumentsFlag string
	venueAFlag      string
	venueBFlag      string
)

func main() {
	root := &cobra.Command{
		Use:          "quote-engine",
		Short:        "Run the quoting engines",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	root.Flags().StringVar(&instrumentsFlag, "instruments", "", "comma-separated bases, e.g. BTC,ETH")
	root.Flags().StringVar(&venueAFlag, "venueA", "okx", "quoting venue")
	root.Flags().StringVar(&venueBFlag, "venueB", "bybit", "hedge venue")
	root.MarkFlagRequired("instruments")

	if err := root.Execute(); err != nil {
		var ee *engine.ExitError
		if errors.As(err, &ee) {
			os.Exit(ee.Code)
		}
		os.Exit(1)
	}
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

	venueA, venueB := types.Venue(venueAFlag), types.Venue(venueBFlag)
	if err := cfg.RequireCredentials(venueA); err != nil {
		return engine.ConfigErr(err)
	}
	insts, err := engine.Instruments(cfg, engine.SplitList(instrumentsFlag), venueA, venueB)
	if err != nil {
		return engine.ConfigErr(err)
	}

	store := kv.Open(cfg.KV.RedisAddr, cfg.KV.RedisDB)
	defer store.Close()
	flags := kv.NewFlags(store)
	params := kv.NewParams(store)
	rings := kv.NewRings(store, cfg.Aggregator.RingBound)
	budget := kv.NewErrorBudget(store, flags, cfg.Hedge.ErrorThreshold, cfg.Hedge.ErrorWindow, logger)
	alerts := alert.NewSink(cfg.Alert.WebhookURL, logger)
	if err := flags.ResetStopBot(context.Background()); err != nil {
		return engine.ConfigErr(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go alerts.Run(ctx)

	var symbolsA []string
	for _, inst := range insts {
		symbolsA = append(symbolsA, inst.QuoteSymbol)
	}
	timeSync, err := engine.NewVenueTimeSync(cfg, venueA, logger)
	if err != nil {
		return engine.ConfigErr(err)
	}
	go timeSync.Run(ctx, engine.TimeSyncRefresh)
	entry, err := engine.NewOrderEntry(cfg, venueA, symbolsA, timeSync, logger)
	if err != nil {
		return engine.ConfigErr(err)
	}

	fatal := make(chan error, 8)
	var wg sync.WaitGroup
	ringKeys := make(map[string]string, len(insts))
	roleB := engine.HedgeRole(cfg)
	for _, inst := range insts {
		ringKeys[inst.Base] = inst.RingKey(types.MarketPerp, roleB)
	}

	// Without redis the rings only exist in this process, so the market-data
	// pipeline has to run here too.
	if cfg.KV.RedisAddr == "" {
		if err := runPipeline(ctx, cfg, insts, rings, budget, alerts, logger, fatal, &wg); err != nil {
			return engine.ConfigErr(err)
		}
	}

	done := make(chan struct{})
	var engines sync.WaitGroup
	for _, inst := range insts {
		eng := quote.NewEngine(inst, ringKeys[inst.Base], cfg.Quoting, rings, params, flags, entry, logger)
		engines.Add(1)
		wg.Add(1)
		go func(e *quote.Engine) {
			defer engines.Done()
			defer wg.Done()
			if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				fatal <- err
			}
		}(eng)
	}
	go func() {
		engines.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		wg.Wait()
		return nil
	case <-done:
		// All engines exited on their own: the kill switch tripped.
		logger.Info("all quoting engines stopped")
		stop()
		wg.Wait()
		return nil
	case err := <-fatal:
		logger.Error("unrecoverable upstream failure", "error", err)
		stop()
		wg.Wait()
		return engine.UpstreamErr(err)
	}
}

// runPipeline starts in-process book feeds and aggregators for insts,
// mirroring what md-aggregator does as a separate process.
func runPipeline(ctx context.Context, cfg *config.Config, insts []types.Instrument, rings *kv.Rings, budget *kv.ErrorBudget, alerts *alert.Sink, logger *slog.Logger, fatal chan error, wg *sync.WaitGroup) error {
	perVenue := make(map[types.Venue][]string)
	for _, inst := range insts {
		perVenue[inst.QuoteVenue] = append(perVenue[inst.QuoteVenue], inst.QuoteSymbol)
		perVenue[inst.HedgeVenue] = append(perVenue[inst.HedgeVenue], inst.HedgeSymbol)
	}

	var feeds []venue.BookFeed
	for v, symbols := range perVenue {
		feed, err := engine.NewBookFeed(cfg, v, symbols, logger)
		if err != nil {
			return err
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

	books := book.NewSet(cfg.Aggregator.Depth)
	roleB := engine.HedgeRole(cfg)
	var aggs []*spread.Aggregator
	for _, inst := range insts {
		aggs = append(aggs, spread.New(inst, types.MarketPerp, roleB, books, rings,
			cfg.Aggregator.MinInterval, cfg.Aggregator.Depth, logger))
	}

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
	return nil
}
