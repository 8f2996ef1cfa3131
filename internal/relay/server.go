// Package relay implements the WebSocket signaling relay: it accepts peer
// connections, applies the payload policy, and fans each accepted payload out
// verbatim to every other connected peer.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scenecast/scenecast/internal/hub"
	"github.com/scenecast/scenecast/internal/metrics"
	"github.com/scenecast/scenecast/internal/ratelimit"
)

// Config carries the relay's per-connection policy knobs.
type Config struct {
	// MaxPeers caps concurrent connections; 0 means unlimited.
	MaxPeers int

	// MaxMessageBytes bounds a single relayed payload.
	MaxMessageBytes int64

	// MessagesPerSecond is the per-connection inbound rate limit; 0 disables.
	MessagesPerSecond int

	// WriteTimeout bounds each per-recipient send during broadcast.
	WriteTimeout time.Duration

	// PingInterval drives the keepalive pinger; 0 disables keepalive and read
	// deadlines entirely.
	PingInterval time.Duration
}

// Server is the relay's WebSocket endpoint. One goroutine per connection runs
// the read loop; the hub registry is the only shared mutable state.
type Server struct {
	log      *slog.Logger
	cfg      Config
	registry *hub.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	// clock is swapped in tests to drive the rate limiter deterministically.
	clock ratelimit.Clock

	mu     sync.Mutex
	closed bool
	conns  map[*websocket.Conn]struct{}
}

func NewServer(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		log:      logger,
		cfg:      cfg,
		registry: hub.New(logger, cfg.MaxPeers),
		metrics:  m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clock: ratelimit.RealClock{},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Registry exposes the connection registry for diagnostics.
func (s *Server) Registry() *hub.Registry {
	return s.registry
}

const wsWriteWait = 1 * time.Second

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	peer := &wsPeer{conn: conn, writeTimeout: s.cfg.WriteTimeout}

	if err := s.registry.Add(peer); err != nil {
		if errors.Is(err, hub.ErrFull) {
			s.metrics.Inc(metrics.RegistryFull)
			s.log.Warn("rejecting connection: relay full", "remote_addr", conn.RemoteAddr().String())
			peer.writeClose(websocket.ClosePolicyViolation, "relay full")
		}
		_ = conn.Close()
		return
	}

	if !s.track(conn) {
		// Shutdown raced the accept.
		s.registry.Remove(peer)
		_ = conn.Close()
		return
	}

	s.metrics.Inc(metrics.PeerConnected)

	go s.readLoop(peer)
}

// readLoop owns the connection from Open until Closed. Registry removal
// happens exactly once, on exit.
func (s *Server) readLoop(peer *wsPeer) {
	conn := peer.conn

	done := make(chan struct{})
	defer func() {
		close(done)
		s.untrack(conn)
		s.registry.Remove(peer)
		s.metrics.Inc(metrics.PeerDisconnected)
		_ = conn.Close()
	}()

	// Per-message policy failures are dropped, never escalated: only a
	// transport-level read error ends the connection.
	var limiter *ratelimit.TokenBucket
	if s.cfg.MessagesPerSecond > 0 {
		rate := int64(s.cfg.MessagesPerSecond)
		limiter = ratelimit.NewTokenBucket(s.clock, rate, rate)
	}

	pongWait := 2 * s.cfg.PingInterval
	if s.cfg.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go s.pingLoop(peer, done)
	}

	for {
		msgType, msgReader, err := conn.NextReader()
		if err != nil {
			return
		}
		payload, err := readPayload(msgReader, s.cfg.MaxMessageBytes)
		if s.cfg.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		if err != nil {
			if errors.Is(err, errPayloadTooLarge) {
				s.metrics.Inc(metrics.DropReasonOversizedPayload)
				s.log.Warn("dropping oversized payload", "max_bytes", s.cfg.MaxMessageBytes)
				continue
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.DropReasonBinaryFrame)
			s.log.Warn("dropping non-text frame")
			continue
		}
		if err := checkPayload(payload); err != nil {
			s.metrics.Inc(metrics.DropReasonEmptyPayload)
			s.log.Warn("dropping empty payload")
			continue
		}
		if limiter != nil && !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			s.log.Warn("dropping payload: rate limit exceeded", "limit_per_second", s.cfg.MessagesPerSecond)
			continue
		}

		delivered, failed := s.registry.Broadcast(peer, payload)
		s.metrics.Inc(metrics.MessageRelayed)
		s.metrics.Add(metrics.SendFailure, uint64(failed))
		s.log.Debug("relayed payload", "bytes", len(payload), "delivered", delivered, "failed", failed)
	}
}

func (s *Server) pingLoop(peer *wsPeer, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Close tears down every open connection. The per-connection read loops
// observe the closed sockets and unwind through their normal exit path.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(wsWriteWait))
		_ = c.Close()
	}
}

// wsPeer adapts one WebSocket connection to hub.Conn. Writes are serialized
// by a mutex and individually deadline-bounded so one stalled recipient
// cannot hold the broadcast beyond its write timeout.
type wsPeer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (p *wsPeer) WriteText(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *wsPeer) writeClose(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (p *wsPeer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}
