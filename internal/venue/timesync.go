package venue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// TimeSync tracks the offset between the local clock and a venue's server
// clock so signed requests carry timestamps the venue accepts even when the
// host drifts. The offset is refreshed periodically in the background.
type TimeSync struct {
	offsetMS atomic.Int64
	client   *resty.Client
	path     string
	field    string
	logger   *slog.Logger
}

// NewTimeSync creates a syncer that reads the server time from the JSON
// response at path, field naming the millisecond-epoch member (e.g.
// "serverTime" for Binance, "ts" inside data[0] for OKX).
func NewTimeSync(client *resty.Client, path, field string, logger *slog.Logger) *TimeSync {
	return &TimeSync{
		client: client,
		path:   path,
		field:  field,
		logger: logger.With("component", "timesync"),
	}
}

// NowMS returns the current venue time in milliseconds. A nil syncer falls
// back to the local clock.
func (t *TimeSync) NowMS() int64 {
	if t == nil {
		return time.Now().UnixMilli()
	}
	return time.Now().UnixMilli() + t.offsetMS.Load()
}

// Now returns the current venue time.
func (t *TimeSync) Now() time.Time {
	return time.UnixMilli(t.NowMS())
}

// Run refreshes the offset immediately and then every interval until ctx is
// cancelled. Refresh failures keep the previous offset.
func (t *TimeSync) Run(ctx context.Context, interval time.Duration) {
	t.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refresh(ctx)
		}
	}
}

func (t *TimeSync) refresh(ctx context.Context) {
	sent := time.Now().UnixMilli()
	resp, err := t.client.R().SetContext(ctx).Get(t.path)
	recv := time.Now().UnixMilli()
	if err != nil || resp.IsError() {
		t.logger.Warn("server time refresh failed", "error", err, "status", resp.StatusCode())
		return
	}
	serverMS, ok := extractServerTime(resp.Body(), t.field)
	if !ok {
		t.logger.Warn("server time response missing field", "field", t.field)
		return
	}
	// Assume symmetric latency: compare server time with the midpoint of the
	// request round trip.
	mid := (sent + recv) / 2
	t.offsetMS.Store(serverMS - mid)
}

// extractServerTime pulls a millisecond timestamp out of an arbitrary JSON
// body. It searches the top level, then a "data" array of objects, which
// covers both the Binance and OKX time endpoints.
func extractServerTime(body []byte, field string) (int64, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return 0, false
	}
	if raw, ok := top[field]; ok {
		return parseMS(raw)
	}
	if raw, ok := top["data"]; ok {
		var arr []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
			if v, ok := arr[0][field]; ok {
				return parseMS(v)
			}
		}
	}
	return 0, false
}

func parseMS(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
