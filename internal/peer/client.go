// Package peer bridges the relay's raw signaling stream to the local
// negotiation engine. Inbound payloads are translated to the engine's flat
// encoding; the engine's local events are translated to the viewer's nested
// encoding before they go back out through the relay.
package peer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/scenecast/scenecast/internal/signal"
)

// Engine is the narrow surface of the negotiation engine the client drives.
// Both entry points take a flat-encoded signaling payload.
type Engine interface {
	SetRemoteDescription(flat []byte) error
	AddICECandidate(flat []byte) error
}

// Relay is the client's view of its relay connection. *websocket.Conn
// satisfies it.
type Relay interface {
	ReadMessage() (messageType int, payload []byte, err error)
	WriteMessage(messageType int, payload []byte) error
	Close() error
}

// Client runs the signaling bridge for one relay connection and one engine.
type Client struct {
	log   *slog.Logger
	relay Relay
	eng   Engine

	// writeMu serializes relay writes; engine callbacks fire on arbitrary
	// goroutines.
	writeMu sync.Mutex

	mu        sync.Mutex
	remoteSet bool
	pending   [][]byte // flat-encoded candidates awaiting the first remote description
}

func NewClient(logger *slog.Logger, relay Relay, eng Engine) *Client {
	return &Client{log: logger, relay: relay, eng: eng}
}

// Run reads relay payloads until the connection closes or ctx is cancelled.
// A normal or going-away close returns nil.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.relay.Close()
		case <-done:
		}
	}()

	for {
		msgType, payload, err := c.relay.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			c.log.Warn("ignoring non-text frame from relay")
			continue
		}
		c.handleInbound(payload)
	}
}

// handleInbound classifies one relay payload and dispatches it to the engine.
// Per-message failures are logged and dropped; they never end the read loop.
func (c *Client) handleInbound(payload []byte) {
	p, err := signal.Decode(payload)
	if err != nil {
		c.log.Error("discarding unclassifiable relay payload", "err", err)
		return
	}
	flat, err := signal.EncodeFlat(p)
	if err != nil {
		c.log.Error("discarding untranslatable relay payload", "err", err)
		return
	}

	switch p.Kind {
	// The offer branch stays even though the remote side initiates in the
	// expected flow; a renegotiating engine re-offers through the same path.
	case signal.KindOffer, signal.KindAnswer:
		if err := c.eng.SetRemoteDescription(flat); err != nil {
			c.log.Error("set remote description failed", "kind", p.Kind, "err", err)
			return
		}
		c.flushPending()

	case signal.KindCandidate:
		if c.deferCandidate(flat) {
			c.log.Debug("buffering candidate until remote description is set")
			return
		}
		if err := c.eng.AddICECandidate(flat); err != nil {
			c.log.Warn("add candidate failed", "err", err)
		}
	}
}

// deferCandidate queues flat until the first remote description has been
// accepted. Reports whether the candidate was queued.
func (c *Client) deferCandidate(flat []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteSet {
		return false
	}
	c.pending = append(c.pending, flat)
	return true
}

// flushPending replays queued candidates in arrival order. Called only after
// a successful SetRemoteDescription.
func (c *Client) flushPending() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, flat := range pending {
		if err := c.eng.AddICECandidate(flat); err != nil {
			c.log.Warn("add buffered candidate failed", "err", err)
		}
	}
}

// HandleEngineSignal forwards one engine-originated flat payload to the relay
// in nested form. An unclassifiable payload is forwarded byte-for-byte
// unchanged rather than lost.
func (c *Client) HandleEngineSignal(flat []byte) error {
	p, err := signal.Decode(flat)
	if err != nil {
		c.log.Warn("forwarding unclassifiable engine payload unchanged", "err", err)
		return c.send(flat)
	}
	nested, err := signal.EncodeNested(p)
	if err != nil {
		c.log.Warn("forwarding untranslatable engine payload unchanged", "err", err)
		return c.send(flat)
	}
	return c.send(nested)
}

func (c *Client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.relay.WriteMessage(websocket.TextMessage, payload)
}
