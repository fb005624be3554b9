package kv

import (
	"context"
	"encoding/json"

	"crossmm/pkg/types"
)

// Rings stores per-instrument spread snapshot lists, bounded so the newest
// entries displace the oldest.
type Rings struct {
	store Store
	bound int
}

func NewRings(store Store, bound int) *Rings {
	return &Rings{store: store, bound: bound}
}

// Append writes one snapshot to the instrument's ring.
func (r *Rings) Append(ctx context.Context, key string, snap types.SpreadSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.store.ListAppendTrim(ctx, key, string(raw), r.bound)
}

// LastN returns up to n most recent snapshots, oldest first. Entries that
// fail to decode are skipped.
func (r *Rings) LastN(ctx context.Context, key string, n int) ([]types.SpreadSnapshot, error) {
	rows, err := r.store.ListLastN(ctx, key, n)
	if err != nil {
		return nil, err
	}
	out := make([]types.SpreadSnapshot, 0, len(rows))
	for _, row := range rows {
		var snap types.SpreadSnapshot
		if err := json.Unmarshal([]byte(row), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Len returns the current ring length.
func (r *Rings) Len(ctx context.Context, key string) (int, error) {
	return r.store.ListLen(ctx, key)
}
