// Package alert delivers operator notifications to a webhook sink. Senders
// never block: notifications queue on a bounded channel and a background
// worker posts them, dropping the oldest when the queue is full.
package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notification is one operator alert.
type Notification struct {
	Reason     string  `json:"reason"`
	Instrument string  `json:"instrument,omitempty"`
	Venue      string  `json:"venue,omitempty"`
	Residual   float64 `json:"residual,omitempty"`
	Error      string  `json:"error,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// Sink posts notifications to a webhook. A Sink with an empty URL is valid
// and only logs, so callers never need a nil check.
type Sink struct {
	client *resty.Client
	url    string
	queue  chan Notification
	logger *slog.Logger
}

func NewSink(webhookURL string, logger *slog.Logger) *Sink {
	return &Sink{
		client: resty.New().SetTimeout(30 * time.Second),
		url:    webhookURL,
		queue:  make(chan Notification, 64),
		logger: logger.With("component", "alert"),
	}
}

// Notify enqueues a notification without blocking.
func (s *Sink) Notify(n Notification) {
	n.Timestamp = time.Now().UnixMilli()
	s.logger.Warn("operator alert",
		"reason", n.Reason,
		"instrument", n.Instrument,
		"venue", n.Venue,
		"residual", n.Residual,
		"error", n.Error,
	)
	select {
	case s.queue <- n:
	default:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- n:
		default:
		}
	}
}

// Run drains the queue until ctx is cancelled. Delivery failures are logged
// and the notification is dropped; alerting must never back-pressure trading.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			if s.url == "" {
				continue
			}
			resp, err := s.client.R().
				SetContext(ctx).
				SetHeader("Content-Type", "application/json").
				SetBody(n).
				Post(s.url)
			if err != nil {
				s.logger.Warn("webhook delivery failed", "error", err)
			} else if resp.IsError() {
				s.logger.Warn("webhook rejected alert", "status", resp.StatusCode())
			}
		}
	}
}
