package quote

import (
	"testing"

	"crossmm/pkg/types"
)

func TestSpreadMAsEmptyWindowSentinels(t *testing.T) {
	t.Parallel()
	entry, exit := spreadMAs(nil, 1000)
	if entry != sentinelEntryMA || exit != sentinelExitMA {
		t.Errorf("sentinels = %v, %v, want %v, %v", entry, exit, sentinelEntryMA, sentinelExitMA)
	}
}

func TestSpreadMAsFreshMean(t *testing.T) {
	t.Parallel()
	now := int64(10_000)
	snaps := []types.SpreadSnapshot{
		{Timestamp: now - 5000, EntrySpread: 99, ExitSpread: 99}, // stale, excluded
		{Timestamp: now - 800, EntrySpread: 0.2, ExitSpread: 0.6},
		{Timestamp: now - 100, EntrySpread: 0.4, ExitSpread: 0.8},
	}
	entry, exit := spreadMAs(snaps, now)
	if entry != 0.3 {
		t.Errorf("entry MA = %v, want 0.3", entry)
	}
	if exit != 0.7 {
		t.Errorf("exit MA = %v, want 0.7", exit)
	}
}

func TestSpreadMAsStaleFallsBackToLast(t *testing.T) {
	t.Parallel()
	now := int64(100_000)
	snaps := []types.SpreadSnapshot{
		{Timestamp: 1000, EntrySpread: 0.1, ExitSpread: 0.2},
		{Timestamp: 2000, EntrySpread: 0.3, ExitSpread: 0.4},
	}
	entry, exit := spreadMAs(snaps, now)
	if entry != 0.3 || exit != 0.4 {
		t.Errorf("fallback = %v, %v, want last values 0.3, 0.4", entry, exit)
	}
}

func TestNewClientID(t *testing.T) {
	t.Parallel()
	id := NewClientID("Perp")
	if len(id) != len("Perp")+10 {
		t.Fatalf("len = %d, want %d", len(id), len("Perp")+10)
	}
	if id[:4] != "Perp" {
		t.Errorf("prefix = %q, want Perp", id[:4])
	}
	for _, c := range id[4:] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			t.Errorf("non-alphanumeric rune %q in %q", c, id)
		}
	}
	if NewClientID("Perp") == id && NewClientID("Perp") == id {
		t.Error("consecutive IDs identical, generator looks stuck")
	}
}
