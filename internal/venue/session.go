// session.go implements the shared WebSocket connection loop used by every
// venue feed.
//
// Each adapter supplies three hooks: onConnect (login + subscribe), onMessage
// (parse and route), and an optional keepalive payload. The session owns the
// connection lifecycle: it dials, runs the hooks, reads with a deadline so
// silent servers are detected, and reconnects after a fixed 5s pause. After
// several consecutive failed attempts it invokes onTrouble so the owner can
// charge the error budget.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectWait    = 5 * time.Second
	pingInterval     = 20 * time.Second
	readTimeout      = 45 * time.Second // ~2 missed pings triggers reconnect
	writeTimeout     = 10 * time.Second
	troubleThreshold = 3 // consecutive failed connects before onTrouble fires
)

// Session manages one WebSocket connection with auto-reconnect.
type Session struct {
	url    string
	wait   time.Duration // pause between reconnect attempts
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// onConnect runs after each successful dial, before the read loop. It
	// must perform any login handshake and (re-)send subscriptions.
	onConnect func(ctx context.Context, s *Session) error

	// onMessage routes each raw frame. It must not block.
	onMessage func(data []byte)

	// onTrouble fires on every reconnect attempt once troubleThreshold
	// consecutive attempts have failed without serving a frame. May be nil.
	onTrouble func(err error)

	// keepalive returns the periodic ping payload, or nil to rely on
	// protocol-level pings only.
	keepalive func() []byte

	logger *slog.Logger
}

// NewSession creates a session for url. name tags the session's log lines.
func NewSession(url, name string, logger *slog.Logger) *Session {
	return &Session{
		url:    url,
		wait:   reconnectWait,
		logger: logger.With("component", name),
	}
}

// OnConnect sets the post-dial hook.
func (s *Session) OnConnect(fn func(ctx context.Context, s *Session) error) { s.onConnect = fn }

// OnMessage sets the frame router.
func (s *Session) OnMessage(fn func(data []byte)) { s.onMessage = fn }

// OnTrouble sets the repeated-failure callback.
func (s *Session) OnTrouble(fn func(err error)) { s.onTrouble = fn }

// Keepalive sets the periodic ping payload generator.
func (s *Session) Keepalive(fn func() []byte) { s.keepalive = fn }

// Run connects and maintains the connection until ctx is cancelled. A
// connection that served at least one frame resets the failure streak, so
// routine disconnects of long-lived sessions never count toward the
// threshold; during an outage onTrouble fires on every attempt past it.
func (s *Session) Run(ctx context.Context) error {
	failures := 0

	for {
		healthy, err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if healthy {
			failures = 0
		}
		failures++
		s.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"consecutive_failures", failures,
		)
		if failures >= troubleThreshold && s.onTrouble != nil {
			s.onTrouble(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.wait):
		}
	}
}

// Close gracefully closes the connection, giving the server a close frame
// before tearing down the socket.
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	deadline := time.Now().Add(2 * time.Second)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

// connectAndRead runs one connection from dial to disconnect. healthy reports
// whether the connection got far enough to serve at least one frame.
func (s *Session) connectAndRead(ctx context.Context) (healthy bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if s.onConnect != nil {
		if err := s.onConnect(ctx, s); err != nil {
			return false, fmt.Errorf("connect handshake: %w", err)
		}
	}

	s.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return healthy, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return healthy, fmt.Errorf("read: %w", err)
		}
		healthy = true

		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if s.keepalive != nil {
				err = s.WriteMessage(websocket.TextMessage, s.keepalive())
			} else {
				err = s.writeControl(websocket.PingMessage, nil)
			}
			if err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// WriteJSON sends v over the connection with a write deadline.
func (s *Session) WriteJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// WriteMessage sends a raw frame with a write deadline.
func (s *Session) WriteMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}

func (s *Session) writeControl(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return s.conn.WriteControl(msgType, data, time.Now().Add(writeTimeout))
}
