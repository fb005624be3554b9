package hedge

import (
	"context"
	"log/slog"
	"time"

	"crossmm/internal/config"
	"crossmm/internal/quote"
	"crossmm/internal/venue"
	"crossmm/pkg/types"
)

// PingService keeps an otherwise idle hedge connection warm by periodically
// resting a far-below-market limit order on a liquid pair and cancelling it
// right away. It uses its own client-ID prefix so ping orders can never be
// mistaken for hedges.
type PingService struct {
	cfg    config.HedgeConfig
	entry  venue.OrderEntry
	logger *slog.Logger
}

func NewPingService(cfg config.HedgeConfig, entry venue.OrderEntry, logger *slog.Logger) *PingService {
	return &PingService{
		cfg:    cfg,
		entry:  entry,
		logger: logger.With("component", "ping"),
	}
}

// Run places a ping at the configured interval until ctx is cancelled.
func (p *PingService) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ping(ctx)
		}
	}
}

func (p *PingService) ping(ctx context.Context) {
	clientID := quote.NewClientID("Ping")
	_, err := p.entry.PlacePostOnly(ctx, p.cfg.PingSymbol, types.Buy, p.cfg.PingPrice, p.cfg.PingQty, clientID)
	if err != nil {
		p.logger.Debug("ping place failed", "error", err)
		return
	}
	if err := p.entry.Cancel(ctx, p.cfg.PingSymbol, clientID); err != nil {
		p.logger.Debug("ping cancel failed", "error", err)
	}
}
