package venue

import (
	"io"
	"log/slog"
	"testing"

	"crossmm/pkg/types"
)

func TestBybitStreamDepthSnapsToSupported(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want int }{
		{1, 1},
		{5, 50},
		{50, 50},
		{51, 200},
		{400, 500},
		{600, 500},
	}
	for _, tc := range tests {
		if got := bybitStreamDepth(tc.in); got != tc.want {
			t.Errorf("bybitStreamDepth(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSendBookDropsDeltasKeepsSnapshots(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch := make(chan types.BookEvent, 1)

	first := types.BookEvent{Symbol: "A", Kind: types.BookDelta, TS: 1}
	sendBook(ch, first, logger)

	// A delta against a full channel is dropped.
	sendBook(ch, types.BookEvent{Symbol: "A", Kind: types.BookDelta, TS: 2}, logger)
	if len(ch) != 1 {
		t.Fatalf("len = %d, want 1", len(ch))
	}

	// A snapshot evicts the pending event instead.
	snap := types.BookEvent{Symbol: "A", Kind: types.BookSnapshot, TS: 3}
	sendBook(ch, snap, logger)

	got := <-ch
	if got.Kind != types.BookSnapshot || got.TS != 3 {
		t.Errorf("surviving event = %+v, want the snapshot", got)
	}
}
