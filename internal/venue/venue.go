// Package venue contains the exchange adapters: public book feeds, private
// order feeds, and REST order entry for OKX, Bybit and Binance futures.
//
// Adapters normalize everything at the boundary — symbols stay venue-native,
// but sizes are converted to coin units via the contract multiplier, book
// updates become types.BookEvent, order updates become types.OrderEvent, and
// venue error codes become *APIError with a Kind the caller can switch on.
package venue

import (
	"context"
	"log/slog"
	"time"

	"crossmm/pkg/types"
)

// RequestTimeout bounds every outbound REST call and WebSocket dial. A timed
// out request surfaces as transient_network and follows the caller's retry
// policy.
const RequestTimeout = 30 * time.Second

// BookFeed streams normalized order-book updates for subscribed symbols.
type BookFeed interface {
	// Books returns the event channel. The feed never blocks on it: when the
	// consumer lags, stale events are dropped and a warning is logged.
	Books() <-chan types.BookEvent

	// Run connects, subscribes, and reads until ctx is cancelled,
	// reconnecting on failure.
	Run(ctx context.Context) error
}

// PrivateFeed streams updates on our own orders over an authenticated
// connection.
type PrivateFeed interface {
	Orders() <-chan types.OrderEvent
	Run(ctx context.Context) error
}

// OrderEntry places, amends and cancels orders over REST. All quantities are
// in coin units; adapters convert to contracts where the venue requires it.
// Errors venue-reported failures surface as *APIError.
type OrderEntry interface {
	// PlacePostOnly rests a maker-only limit order.
	PlacePostOnly(ctx context.Context, symbol string, side types.Side, price, size float64, clientID string) (types.OrderAck, error)

	// Amend moves a live order identified by client ID to a new price and
	// size.
	Amend(ctx context.Context, symbol, clientID string, side types.Side, price, size float64) error

	// Cancel removes a live order identified by client ID.
	Cancel(ctx context.Context, symbol, clientID string) error

	// PlaceMarket submits an immediate-or-cancel market order.
	PlaceMarket(ctx context.Context, symbol string, side types.Side, size float64, clientID string) (types.FillReport, error)

	// Position returns the signed net position for symbol, in coin units.
	Position(ctx context.Context, symbol string) (float64, error)
}

// sendBook forwards a book event without blocking. A full channel drops
// deltas; snapshots evict the oldest pending event instead, so consumers can
// always recover full book state.
func sendBook(ch chan types.BookEvent, evt types.BookEvent, logger *slog.Logger) {
	select {
	case ch <- evt:
		return
	default:
	}
	if evt.Kind != types.BookSnapshot {
		logger.Warn("book channel full, dropping delta", "symbol", evt.Symbol)
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- evt:
	default:
		logger.Warn("book channel full, dropping snapshot", "symbol", evt.Symbol)
	}
}
