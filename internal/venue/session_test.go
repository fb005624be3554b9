package venue

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsEchoServer upgrades each connection, serves one frame, and closes, so
// every session it accepts counts as healthy.
func wsEchoServer(served *atomic.Int64) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		served.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		time.Sleep(10 * time.Millisecond)
		conn.Close()
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHealthySessionsDoNotCountAsFailures(t *testing.T) {
	t.Parallel()
	var served atomic.Int64
	srv := wsEchoServer(&served)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSession(wsURL(srv), "test_ws", logger)
	s.wait = 5 * time.Millisecond
	var troubles atomic.Int64
	s.OnTrouble(func(error) { troubles.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for served.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if served.Load() < 5 {
		t.Fatalf("server served %d connections, want at least 5", served.Load())
	}
	if got := troubles.Load(); got != 0 {
		t.Errorf("onTrouble fired %d times across healthy disconnects, want 0", got)
	}
}

func TestOutageAfterHealthySessionTripsTrouble(t *testing.T) {
	t.Parallel()
	var served atomic.Int64
	srv := wsEchoServer(&served)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSession(wsURL(srv), "test_ws", logger)
	s.wait = 5 * time.Millisecond
	var troubles atomic.Int64
	s.OnTrouble(func(error) { troubles.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Let at least one healthy connection through, then take the server down
	// so every later dial fails.
	deadline := time.Now().Add(5 * time.Second)
	for served.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	srv.Close()

	for troubles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if served.Load() < 1 {
		t.Fatal("server never served a connection")
	}
	if troubles.Load() == 0 {
		t.Error("onTrouble never fired during the outage")
	}
}
