package kv

import (
	"context"
	"testing"

	"crossmm/pkg/types"
)

func TestRingsBoundAndOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRings(NewMemoryStore(), 5)

	for i := 0; i < 8; i++ {
		snap := types.SpreadSnapshot{Base: "BTC", Timestamp: int64(i)}
		if err := r.Append(ctx, "okx_perp_bybit_perp_BTC", snap); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := r.Len(ctx, "okx_perp_bybit_perp_BTC")
	if err != nil || n != 5 {
		t.Errorf("Len = %d, %v, want 5, nil", n, err)
	}

	snaps, err := r.LastN(ctx, "okx_perp_bybit_perp_BTC", 3)
	if err != nil {
		t.Fatalf("LastN: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("LastN returned %d, want 3", len(snaps))
	}
	for i, want := range []int64{5, 6, 7} {
		if snaps[i].Timestamp != want {
			t.Errorf("snap %d timestamp = %d, want %d", i, snaps[i].Timestamp, want)
		}
	}
}

func TestRingsSkipCorruptRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewRings(store, 500)

	r.Append(ctx, "k", types.SpreadSnapshot{Timestamp: 1})
	store.ListAppendTrim(ctx, "k", "{broken", 500)
	r.Append(ctx, "k", types.SpreadSnapshot{Timestamp: 2})

	snaps, err := r.LastN(ctx, "k", 10)
	if err != nil {
		t.Fatalf("LastN: %v", err)
	}
	if len(snaps) != 2 || snaps[0].Timestamp != 1 || snaps[1].Timestamp != 2 {
		t.Errorf("LastN = %+v, want timestamps 1,2", snaps)
	}
}
