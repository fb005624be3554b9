// hedge runs the hedge executors: consume the quoting venue's private order
// stream and place compensating market orders on the hedge venue. The
// executors keep draining residuals even after the kill switch trips, so this
// process only exits on SIGINT or an unrecoverable upstream failure.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"crossmm/internal/alert"
	"crossmm/internal/config"
	"crossmm/internal/engine"
	"crossmm/internal/hedge"
	"crossmm/internal/kv"
	"crossmm/pkg/types"
)

var (
	configPath      string
	quotingFlag     string
	hedgingFlag     string
	instrumentsFlag string
)

func main() {
	root := &cobra.Command{
		Use:          "hedge",
		Short:        "Run the hedge executors",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	root.Flags().StringVar(&quotingFlag, "quoting", "okx", "quoting venue (private order stream)")
	root.Flags().StringVar(&hedgingFlag, "hedging", "bybit", "hedge venue (market orders)")
	root.Flags().StringVar(&instrumentsFlag, "instruments", "", "comma-separated bases, e.g. BTC,ETH")
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

	quoting, hedging := types.Venue(quotingFlag), types.Venue(hedgingFlag)
	if err := cfg.RequireCredentials(quoting, hedging); err != nil {
		return engine.ConfigErr(err)
	}
	insts, err := engine.Instruments(cfg, engine.SplitList(instrumentsFlag), quoting, hedging)
	if err != nil {
		return engine.ConfigErr(err)
	}

	store := kv.Open(cfg.KV.RedisAddr, cfg.KV.RedisDB)
	defer store.Close()
	flags := kv.NewFlags(store)
	budget := kv.NewErrorBudget(store, flags, cfg.Hedge.ErrorThreshold, cfg.Hedge.ErrorWindow, logger)
	alerts := alert.NewSink(cfg.Alert.WebhookURL, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go alerts.Run(ctx)

	var quoteSymbols, hedgeSymbols []string
	for _, inst := range insts {
		quoteSymbols = append(quoteSymbols, inst.QuoteSymbol)
		hedgeSymbols = append(hedgeSymbols, inst.HedgeSymbol)
	}

	// Both venues reject signed requests whose timestamp drifts outside
	// their recv window, so each side keeps a server-clock offset fresh.
	quoteSync, err := engine.NewVenueTimeSync(cfg, quoting, logger)
	if err != nil {
		return engine.ConfigErr(err)
	}
	hedgeSync, err := engine.NewVenueTimeSync(cfg, hedging, logger)
	if err != nil {
		return engine.ConfigErr(err)
	}
	go quoteSync.Run(ctx, engine.TimeSyncRefresh)
	go hedgeSync.Run(ctx, engine.TimeSyncRefresh)

	quoteEntry, err := engine.NewOrderEntry(cfg, quoting, quoteSymbols, quoteSync, logger)
	if err != nil {
		return engine.ConfigErr(err)
	}
	hedgeEntry, err := engine.NewOrderEntry(cfg, hedging, hedgeSymbols, hedgeSync, logger)
	if err != nil {
		return engine.ConfigErr(err)
	}

	feed, err := engine.NewPrivateFeed(cfg, quoting, quoteSymbols, quoteSync, logger)
	if err != nil {
		return engine.ConfigErr(err)
	}
	if tf, ok := feed.(interface{ OnTrouble(func(error)) }); ok {
		tf.OnTrouble(func(err error) {
			budget.Record(context.WithoutCancel(ctx))
			alerts.Notify(alert.Notification{
				Reason: "venue_disconnect",
				Venue:  string(quoting),
				Error:  err.Error(),
			})
		})
	}

	fatal := make(chan error, 4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fatal <- err
		}
	}()

	// One executor per instrument, fed by a symbol-keyed dispatcher so each
	// instrument's events stay in arrival order.
	executors := make(map[string]*hedge.Executor, len(insts))
	for _, inst := range insts {
		step := cfg.StepSize(hedging, inst.HedgeSymbol)
		recon := hedge.NewReconciler(inst, quoteEntry, hedgeEntry, step,
			cfg.Hedge.ReconDustCoin, alerts, logger)
		executors[inst.QuoteSymbol] = hedge.NewExecutor(inst, cfg.Hedge,
			cfg.Quoting.ClientIDPrefix, step, hedgeEntry, flags, budget, recon, alerts, logger)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-feed.Orders():
				if !ok {
					return
				}
				if ex, found := executors[evt.Symbol]; found {
					ex.Handle(ctx, evt)
				}
			}
		}
	}()

	if cfg.Hedge.PingEnabled {
		ping := hedge.NewPingService(cfg.Hedge, hedgeEntry, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ping.Run(ctx)
		}()
	}

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
