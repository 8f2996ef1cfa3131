package httpserver

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scenecast/scenecast/internal/metrics"
	"github.com/scenecast/scenecast/internal/relay"
)

// The signaling endpoint is mounted behind the full middleware chain, exactly
// as the relay binary wires it; the upgrade must succeed through the wrapped
// response writer.
func TestSignalingEndpoint_UpgradesThroughMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New("127.0.0.1:0", log, BuildInfo{Commit: "abc", BuildTime: "time"})

	relaySrv := relay.NewServer(relay.Config{MaxMessageBytes: 64 * 1024}, log, metrics.New())
	srv.Mux().Handle("GET /ws", relaySrv)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	t.Cleanup(func() {
		relaySrv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	wsURL := "ws://" + ln.Addr().String() + "/ws"

	sender, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = sender.Close() })

	receiver, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial receiver: %v", err)
	}
	t.Cleanup(func() { _ = receiver.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for relaySrv.Registry().Count() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("registry never reached 2 peers (have %d)", relaySrv.Registry().Count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	payload := []byte(`{"type":"offer","sdp":"v=0"}`)
	if err := sender.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := receiver.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %s want %s", got, payload)
	}
}

// The upgrade shares the chain with plain routes; both must keep working and
// the request logger must not interfere with either.
func TestSignalingEndpoint_CoexistsWithPlainRoutes(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New("127.0.0.1:0", log, BuildInfo{})

	relaySrv := relay.NewServer(relay.Config{MaxMessageBytes: 64 * 1024}, log, metrics.New())
	srv.Mux().Handle("GET /ws", relaySrv)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	t.Cleanup(func() {
		relaySrv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	base := "http://" + ln.Addr().String()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: got %d want %d", resp.StatusCode, http.StatusOK)
	}
}
