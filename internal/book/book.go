// Package book maintains local order-book state from normalized venue events.
//
// Each venue/symbol pair gets one Book. Snapshots replace both sides; deltas
// upsert individual levels, with size zero removing a level, and both sides
// are truncated to the book's depth after every update. Updates whose
// exchange timestamp is not newer than the last applied one are rejected, so
// replays after a reconnect are harmless.
package book

import (
	"sort"
	"sync"

	"crossmm/pkg/types"
)

// DefaultDepth is the number of levels retained per side when no explicit
// depth is given.
const DefaultDepth = 5

// Book holds one venue/symbol order book. Safe for concurrent use.
type Book struct {
	mu     sync.RWMutex
	depth  int
	bids   []types.PriceLevel // price descending
	asks   []types.PriceLevel // price ascending
	lastTS int64
	synced bool // a snapshot has been applied
}

// New returns an empty book retaining depth levels per side. It stays
// unsynced until the first snapshot.
func New(depth int) *Book {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Book{depth: depth}
}

// Apply merges one event into the book. It returns false when the event was
// rejected: a stale timestamp, or a delta arriving before any snapshot.
func (b *Book) Apply(evt types.BookEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if evt.TS <= b.lastTS {
		return false
	}

	switch evt.Kind {
	case types.BookSnapshot:
		b.bids = append(b.bids[:0], evt.Bids...)
		b.asks = append(b.asks[:0], evt.Asks...)
		sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })
		sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })
		b.synced = true
	case types.BookDelta:
		if !b.synced {
			return false
		}
		b.bids = mergeLevels(b.bids, evt.Bids, func(a, c float64) bool { return a > c })
		b.asks = mergeLevels(b.asks, evt.Asks, func(a, c float64) bool { return a < c })
	default:
		return false
	}

	if len(b.bids) > b.depth {
		b.bids = b.bids[:b.depth]
	}
	if len(b.asks) > b.depth {
		b.asks = b.asks[:b.depth]
	}
	b.lastTS = evt.TS
	return true
}

// mergeLevels upserts changes into a sorted side. A zero size removes the
// level; an existing price has its size replaced; new prices are inserted in
// order. before reports whether price a sorts ahead of price c on this side.
func mergeLevels(side, changes []types.PriceLevel, before func(a, c float64) bool) []types.PriceLevel {
	for _, ch := range changes {
		idx := -1
		for i, lv := range side {
			if lv.Price == ch.Price {
				idx = i
				break
			}
		}
		switch {
		case ch.Size == 0:
			if idx >= 0 {
				side = append(side[:idx], side[idx+1:]...)
			}
		case idx >= 0:
			side[idx].Size = ch.Size
		default:
			pos := len(side)
			for i, lv := range side {
				if before(ch.Price, lv.Price) {
					pos = i
					break
				}
			}
			side = append(side, types.PriceLevel{})
			copy(side[pos+1:], side[pos:])
			side[pos] = ch
		}
	}
	return side
}

// Synced reports whether a snapshot has been applied.
func (b *Book) Synced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// LastUpdateTS returns the exchange timestamp of the last applied event.
func (b *Book) LastUpdateTS() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTS
}

// TopOfBook returns the best bid and ask. Missing sides come back as the pad
// sentinels, so callers can always compare prices without nil checks.
func (b *Book) TopOfBook() (bid, ask types.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask = types.PadBid, types.PadAsk
	if len(b.bids) > 0 {
		bid = b.bids[0]
	}
	if len(b.asks) > 0 {
		ask = b.asks[0]
	}
	return bid, ask
}

// Levels returns the top depth levels of each side, padded with sentinels to
// exactly depth entries. The slices are copies.
func (b *Book) Levels(depth int) (bids, asks []types.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids = make([]types.PriceLevel, depth)
	asks = make([]types.PriceLevel, depth)
	for i := 0; i < depth; i++ {
		if i < len(b.bids) {
			bids[i] = b.bids[i]
		} else {
			bids[i] = types.PadBid
		}
		if i < len(b.asks) {
			asks[i] = b.asks[i]
		} else {
			asks[i] = types.PadAsk
		}
	}
	return bids, asks
}

// Set is a concurrency-safe collection of books keyed by venue and symbol.
// Every book it creates shares the same depth.
type Set struct {
	mu    sync.RWMutex
	depth int
	books map[string]*Book
}

// NewSet returns an empty book collection with depth levels per side.
func NewSet(depth int) *Set {
	return &Set{depth: depth, books: make(map[string]*Book)}
}

func key(v types.Venue, symbol string) string {
	return string(v) + ":" + symbol
}

// Get returns the book for venue/symbol, creating it if needed.
func (s *Set) Get(v types.Venue, symbol string) *Book {
	s.mu.RLock()
	b, ok := s.books[key(v, symbol)]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.books[key(v, symbol)]; ok {
		return b
	}
	b = New(s.depth)
	s.books[key(v, symbol)] = b
	return b
}

// Apply routes an event to its book.
func (s *Set) Apply(evt types.BookEvent) bool {
	return s.Get(evt.Venue, evt.Symbol).Apply(evt)
}
