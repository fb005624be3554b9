package quote

import (
	"crossmm/pkg/types"
)

// Sentinel means for an empty ring. They sit far outside any plausible band,
// so the limit price is always pushed away by the full adjustment buffer
// until real data arrives.
const (
	sentinelEntryMA = -10.0
	sentinelExitMA  = 10.0
)

// spreadMAs returns the 1-second arithmetic means of the entry and exit
// spreads. Snapshots older than one second fall back to the most recent
// value; an empty window returns the sentinels.
func spreadMAs(snaps []types.SpreadSnapshot, nowMS int64) (entryMA, exitMA float64) {
	if len(snaps) == 0 {
		return sentinelEntryMA, sentinelExitMA
	}

	var entrySum, exitSum float64
	var n int
	for _, s := range snaps {
		if nowMS-s.Timestamp <= 1000 {
			entrySum += s.EntrySpread
			exitSum += s.ExitSpread
			n++
		}
	}
	if n > 0 {
		return entrySum / float64(n), exitSum / float64(n)
	}

	last := snaps[len(snaps)-1]
	return last.EntrySpread, last.ExitSpread
}
