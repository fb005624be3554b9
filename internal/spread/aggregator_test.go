package spread

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"crossmm/internal/book"
	"crossmm/internal/kv"
	"crossmm/pkg/types"
)

var testInst = types.Instrument{
	Base:        "BTC",
	QuoteVenue:  types.VenueOKX,
	HedgeVenue:  types.VenueBybit,
	QuoteSymbol: "BTC-USDT-SWAP",
	HedgeSymbol: "BTCUSDT",
}

type fixture struct {
	agg   *Aggregator
	books *book.Set
	rings *kv.Rings
	store kv.Store
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kv.NewMemoryStore()
	rings := kv.NewRings(store, 500)
	books := book.NewSet(5)
	agg := New(testInst, types.MarketPerp, types.MarketPerp, books, rings,
		25*time.Millisecond, 5, slog.New(slog.NewTextHandler(testWriter{t}, nil)))

	f := &fixture{agg: agg, books: books, rings: rings, store: store,
		clock: time.UnixMilli(1_700_000_000_000)}
	agg.now = func() time.Time { return f.clock }
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *fixture) feed(ctx context.Context, evt types.BookEvent) {
	f.books.Apply(evt)
	f.agg.HandleEvent(ctx, evt)
}

func bookEvent(v types.Venue, sym string, ts int64, bids, asks []types.PriceLevel) types.BookEvent {
	return types.BookEvent{Venue: v, Symbol: sym, Kind: types.BookSnapshot, TS: ts, Bids: bids, Asks: asks}
}

func TestBasicSpreadEmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.feed(ctx, bookEvent(types.VenueOKX, "BTC-USDT-SWAP", 1000,
		[]types.PriceLevel{{Price: 100, Size: 1}},
		[]types.PriceLevel{{Price: 101, Size: 1}}))

	// Only one side present yet: nothing emitted.
	select {
	case snap := <-f.agg.Snapshots():
		t.Fatalf("unexpected emission with one side: %+v", snap)
	default:
	}

	f.clock = f.clock.Add(30 * time.Millisecond)
	f.feed(ctx, bookEvent(types.VenueBybit, "BTCUSDT", 1001,
		[]types.PriceLevel{{Price: 99, Size: 1}},
		[]types.PriceLevel{{Price: 100, Size: 1}}))

	snap := <-f.agg.Snapshots()
	if snap.EntrySpread != 0.0 {
		t.Errorf("entry spread = %v, want 0.0", snap.EntrySpread)
	}
	want := 100 * (101.0 - 99.0) / 99.0
	if math.Abs(snap.ExitSpread-want) > 1e-9 {
		t.Errorf("exit spread = %v, want %v", snap.ExitSpread, want)
	}
	if snap.Base != "BTC" {
		t.Errorf("base = %q, want BTC", snap.Base)
	}
}

func TestDeltaRemovalChangesSpread(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.feed(ctx, bookEvent(types.VenueOKX, "BTC-USDT-SWAP", 1000,
		[]types.PriceLevel{{Price: 100, Size: 1}},
		[]types.PriceLevel{{Price: 101, Size: 1}}))
	f.clock = f.clock.Add(30 * time.Millisecond)
	f.feed(ctx, bookEvent(types.VenueBybit, "BTCUSDT", 1001,
		[]types.PriceLevel{{Price: 99, Size: 1}},
		[]types.PriceLevel{{Price: 100, Size: 1}}))
	<-f.agg.Snapshots()

	f.clock = f.clock.Add(30 * time.Millisecond)
	f.feed(ctx, types.BookEvent{
		Venue: types.VenueOKX, Symbol: "BTC-USDT-SWAP", Kind: types.BookDelta, TS: 1002,
		Bids: []types.PriceLevel{{Price: 100, Size: 0}, {Price: 99, Size: 2}},
	})

	snap := <-f.agg.Snapshots()
	if snap.EntrySpread != -1.0 {
		t.Errorf("entry spread after removal = %v, want -1.0", snap.EntrySpread)
	}
}

func TestRateGate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.feed(ctx, bookEvent(types.VenueBybit, "BTCUSDT", 500,
		[]types.PriceLevel{{Price: 99, Size: 1}},
		[]types.PriceLevel{{Price: 100, Size: 1}}))

	// 40 updates 2.5 ms apart: at a 25 ms gate, at most 5 snapshots.
	for i := 0; i < 40; i++ {
		f.clock = f.clock.Add(2500 * time.Microsecond)
		f.feed(ctx, bookEvent(types.VenueOKX, "BTC-USDT-SWAP", int64(1000+i),
			[]types.PriceLevel{{Price: 100, Size: 1}},
			[]types.PriceLevel{{Price: 101, Size: 1}}))
	}

	var emitted int
	for {
		select {
		case <-f.agg.Snapshots():
			emitted++
			continue
		default:
		}
		break
	}
	if emitted > 5 {
		t.Errorf("emitted %d snapshots in 100 ms, want at most 5", emitted)
	}
	if emitted == 0 {
		t.Error("no snapshots emitted")
	}

	// Book state still advanced while emission was gated.
	if ts := f.books.Get(types.VenueOKX, "BTC-USDT-SWAP").LastUpdateTS(); ts != 1039 {
		t.Errorf("book lastTS = %d, want 1039", ts)
	}
}

func TestCrossedBookStillEmits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.feed(ctx, bookEvent(types.VenueBybit, "BTCUSDT", 1000,
		[]types.PriceLevel{{Price: 99, Size: 1}},
		[]types.PriceLevel{{Price: 100, Size: 1}}))
	f.clock = f.clock.Add(30 * time.Millisecond)
	f.feed(ctx, bookEvent(types.VenueOKX, "BTC-USDT-SWAP", 1001,
		[]types.PriceLevel{{Price: 102, Size: 1}},
		[]types.PriceLevel{{Price: 101, Size: 1}}))

	select {
	case snap := <-f.agg.Snapshots():
		if snap.BestBidA != 102 {
			t.Errorf("best bid A = %v, want 102", snap.BestBidA)
		}
	default:
		t.Fatal("crossed book suppressed emission")
	}
}

func TestSnapshotsSerializableAndRingWritten(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.feed(ctx, bookEvent(types.VenueBybit, "BTCUSDT", 1000,
		[]types.PriceLevel{{Price: 99, Size: 1}},
		[]types.PriceLevel{{Price: 100, Size: 1}}))
	f.clock = f.clock.Add(30 * time.Millisecond)
	f.feed(ctx, bookEvent(types.VenueOKX, "BTC-USDT-SWAP", 1001,
		[]types.PriceLevel{{Price: 100, Size: 1}},
		[]types.PriceLevel{{Price: 101, Size: 1}}))

	snaps, err := f.rings.LastN(ctx, f.agg.RingKey(), 10)
	if err != nil {
		t.Fatalf("LastN: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("ring has %d entries, want 1", len(snaps))
	}
	// Pad sentinels must not leak into the serialized record.
	for _, lv := range snaps[0].AsksA {
		if math.IsInf(lv.Price, 0) || lv.Size == 0 {
			t.Errorf("pad level leaked into ring record: %+v", lv)
		}
	}
	if snaps[0].TimeLag < 0 {
		t.Errorf("timelag = %d, want >= 0", snaps[0].TimeLag)
	}
}
