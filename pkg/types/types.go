// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — venues, sides,
// normalized book and order events, and the spread snapshots written to the
// per-instrument ring buffers. It has no dependencies on internal packages,
// so it can be imported by any layer.
package types

import "math"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side. Hedging always trades opposite the fill.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Venue identifies an exchange. Values match config section names and the
// names used in ring-buffer keys.
type Venue string

const (
	VenueOKX     Venue = "okx"
	VenueBybit   Venue = "bybit"
	VenueBinance Venue = "binance"
)

// MarketType distinguishes perpetual-swap from spot listings of the same base.
type MarketType string

const (
	MarketPerp MarketType = "perp"
	MarketSpot MarketType = "spot"
)

// BookKind discriminates the two update semantics a venue may emit.
type BookKind string

const (
	BookSnapshot BookKind = "snapshot" // replace both sides
	BookDelta    BookKind = "delta"    // merge level changes
)

// OrderStatus is the normalized lifecycle state carried on private events.
type OrderStatus string

const (
	StatusLive            OrderStatus = "live"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
)

// ————————————————————————————————————————————————————————————————————————
// Instruments
// ————————————————————————————————————————————————————————————————————————

// Instrument names one cross-venue pair being traded: passive quotes rest on
// the quoting venue, fills are hedged on the hedge venue. Base is the
// canonical coin name (e.g. "BTC"); each venue has its own serialization of
// it, resolved through the config symbol table.
type Instrument struct {
	Base        string
	QuoteVenue  Venue
	HedgeVenue  Venue
	QuoteSymbol string // venue symbol on the quoting venue, e.g. BTC-USDT-SWAP
	HedgeSymbol string // venue symbol on the hedge venue, e.g. BTCUSDT
}

// RingKey returns the per-instrument spread ring-buffer key, e.g.
// "OKX_PERP_BYBIT_PERP_BTC".
func (in Instrument) RingKey(roleA, roleB MarketType) string {
	return upper(string(in.QuoteVenue)) + "_" + upper(string(roleA)) + "_" +
		upper(string(in.HedgeVenue)) + "_" + upper(string(roleB)) + "_" + in.Base
}

func upper(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

// ————————————————————————————————————————————————————————————————————————
// Book events
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Size is in coin units: venue
// adapters apply the contract multiplier before emitting, so nothing
// downstream deals in contracts.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// PadBid and PadAsk fill missing book slots so consumers can safely index a
// fixed number of levels.
var (
	PadBid = PriceLevel{Price: 0, Size: 0}
	PadAsk = PriceLevel{Price: math.Inf(1), Size: 0}
)

// BookEvent is a normalized order-book update from one venue session.
// Bids are sorted price-descending, asks price-ascending.
type BookEvent struct {
	Venue  Venue
	Symbol string
	Kind   BookKind
	TS     int64 // exchange timestamp, ms
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// ————————————————————————————————————————————————————————————————————————
// Private order events
// ————————————————————————————————————————————————————————————————————————

// OrderEvent is one venue-delivered update on one of our orders. Duplicates
// are allowed on reconnect; consumers deduplicate by ClientID + AccFillSize.
type OrderEvent struct {
	Venue       Venue
	Symbol      string
	Side        Side
	FillSize    float64 // incremental fill, coin units
	AccFillSize float64 // cumulative fill in coin units, used for dedup
	Price       float64
	ClientID    string
	OrderID     string
	Status      OrderStatus
	TS          int64 // ms
}

// OrderAck is the response to a place/amend request.
type OrderAck struct {
	OrderID  string
	ClientID string
}

// FillReport is the response to a market/IOC order.
type FillReport struct {
	OrderID   string
	ClientID  string
	FilledQty float64
	AvgPrice  float64
}

// ————————————————————————————————————————————————————————————————————————
// Spread snapshots
// ————————————————————————————————————————————————————————————————————————

// SpreadSnapshot is the joined cross-venue record emitted by the aggregator
// and appended to the instrument's ring buffer. Spread fields are percentages
// (price ratio × 100); TimeLag is now − min(both venue timestamps).
//
// EntrySpread > 0 means selling on venue A and buying on venue B is
// profitable before costs; ExitSpread < 0 is the opposite.
type SpreadSnapshot struct {
	Base        string       `json:"base"`
	Timestamp   int64        `json:"timestamp"` // emission time, ms
	EntrySpread float64      `json:"entry_spread"`
	ExitSpread  float64      `json:"exit_spread"`
	BestBidA    float64      `json:"best_bid_price_a"`
	BestAskA    float64      `json:"best_ask_price_a"`
	BestBidB    float64      `json:"best_bid_price_b"`
	BestAskB    float64      `json:"best_ask_price_b"`
	BidsA       []PriceLevel `json:"bids_a"`
	AsksA       []PriceLevel `json:"asks_a"`
	BidsB       []PriceLevel `json:"bids_b"`
	AsksB       []PriceLevel `json:"asks_b"`
	TimeLag     int64        `json:"timelag"` // ms
}
