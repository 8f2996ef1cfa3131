package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

type fakeRelay struct {
	inbound []fakeFrame
	readErr error

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

type fakeFrame struct {
	msgType int
	payload []byte
}

func (r *fakeRelay) ReadMessage() (int, []byte, error) {
	if len(r.inbound) == 0 {
		if r.readErr != nil {
			return 0, nil, r.readErr
		}
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	f := r.inbound[0]
	r.inbound = r.inbound[1:]
	return f.msgType, f.payload, nil
}

func (r *fakeRelay) WriteMessage(msgType int, payload []byte) error {
	if msgType != websocket.TextMessage {
		return fmt.Errorf("unexpected message type %d", msgType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, append([]byte(nil), payload...))
	return nil
}

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type engineCall struct {
	op      string // "remote" or "candidate"
	payload string
}

type fakeEngine struct {
	mu        sync.Mutex
	calls     []engineCall
	remoteErr error
}

func (e *fakeEngine) SetRemoteDescription(flat []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteErr != nil {
		return e.remoteErr
	}
	e.calls = append(e.calls, engineCall{op: "remote", payload: string(flat)})
	return nil
}

func (e *fakeEngine) AddICECandidate(flat []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{op: "candidate", payload: string(flat)})
	return nil
}

func newTestClient(relay *fakeRelay, eng *fakeEngine) *Client {
	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), relay, eng)
}

func mustEqualJSON(t *testing.T, got string, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("got is not JSON: %s", got)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("want is not JSON: %s", want)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if !bytes.Equal(gb, wb) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestClient_InboundOfferReachesEngineFlat(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(&fakeRelay{}, eng)

	c.handleInbound([]byte(`{"type":"Offer","data":{"sdp":"v=0..."}}`))

	if len(eng.calls) != 1 || eng.calls[0].op != "remote" {
		t.Fatalf("calls: %+v", eng.calls)
	}
	mustEqualJSON(t, eng.calls[0].payload, `{"type":"offer","sdp":"v=0..."}`)
}

func TestClient_CandidatesBufferedUntilRemoteDescription(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(&fakeRelay{}, eng)

	cand1 := `{"type":"IceCandidate","data":{"candidate":"candidate:1","sdp_mid":"0","sdp_mline_index":0}}`
	cand2 := `{"type":"IceCandidate","data":{"candidate":"candidate:2","sdp_mid":"0","sdp_mline_index":0}}`

	c.handleInbound([]byte(cand1))
	c.handleInbound([]byte(cand2))
	if len(eng.calls) != 0 {
		t.Fatalf("candidates must not reach the engine before a remote description: %+v", eng.calls)
	}

	c.handleInbound([]byte(`{"type":"Offer","data":{"sdp":"v=0"}}`))

	if len(eng.calls) != 3 {
		t.Fatalf("calls: %+v", eng.calls)
	}
	if eng.calls[0].op != "remote" {
		t.Fatalf("remote description must land first: %+v", eng.calls)
	}
	// Buffered candidates flush in arrival order.
	mustEqualJSON(t, eng.calls[1].payload, `{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`)
	mustEqualJSON(t, eng.calls[2].payload, `{"candidate":"candidate:2","sdpMid":"0","sdpMLineIndex":0}`)

	// Later candidates go straight through.
	c.handleInbound([]byte(cand1))
	if len(eng.calls) != 4 || eng.calls[3].op != "candidate" {
		t.Fatalf("calls: %+v", eng.calls)
	}
}

func TestClient_FailedRemoteDescriptionKeepsBuffering(t *testing.T) {
	eng := &fakeEngine{remoteErr: errors.New("bad sdp")}
	c := newTestClient(&fakeRelay{}, eng)

	c.handleInbound([]byte(`{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`))
	c.handleInbound([]byte(`{"type":"offer","sdp":"v=0"}`))
	if len(eng.calls) != 0 {
		t.Fatalf("a failed remote description must not flush candidates: %+v", eng.calls)
	}

	eng.remoteErr = nil
	c.handleInbound([]byte(`{"type":"offer","sdp":"v=0"}`))
	if len(eng.calls) != 2 || eng.calls[0].op != "remote" || eng.calls[1].op != "candidate" {
		t.Fatalf("calls: %+v", eng.calls)
	}
}

func TestClient_UnclassifiableInboundDropped(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestClient(&fakeRelay{}, eng)

	c.handleInbound([]byte(`{"foo":"bar"}`))
	c.handleInbound([]byte(`not json`))

	if len(eng.calls) != 0 {
		t.Fatalf("unclassifiable payloads must never reach the engine: %+v", eng.calls)
	}
}

func TestClient_OutboundTranslatedToNested(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestClient(relay, &fakeEngine{})

	if err := c.HandleEngineSignal([]byte(`{"type":"answer","sdp":"v=0..."}`)); err != nil {
		t.Fatalf("HandleEngineSignal: %v", err)
	}
	if err := c.HandleEngineSignal([]byte(`{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`)); err != nil {
		t.Fatalf("HandleEngineSignal: %v", err)
	}

	if len(relay.writes) != 2 {
		t.Fatalf("writes: %d", len(relay.writes))
	}
	mustEqualJSON(t, string(relay.writes[0]), `{"type":"Answer","data":{"sdp":"v=0..."}}`)
	mustEqualJSON(t, string(relay.writes[1]),
		`{"type":"IceCandidate","data":{"candidate":"candidate:1","sdp_mid":"0","sdp_mline_index":0}}`)
}

func TestClient_OutboundFallbackForwardsUnchanged(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestClient(relay, &fakeEngine{})

	original := []byte(`{"foo":"bar"}`)
	if err := c.HandleEngineSignal(original); err != nil {
		t.Fatalf("HandleEngineSignal: %v", err)
	}
	if len(relay.writes) != 1 || !bytes.Equal(relay.writes[0], original) {
		t.Fatalf("fallback must forward the original bytes: %q", relay.writes)
	}
}

func TestClient_RunDispatchesAndStopsOnClose(t *testing.T) {
	eng := &fakeEngine{}
	relay := &fakeRelay{inbound: []fakeFrame{
		{websocket.BinaryMessage, []byte{0x01}}, // ignored
		{websocket.TextMessage, []byte(`{"type":"offer","sdp":"v=0"}`)},
	}}
	c := newTestClient(relay, eng)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(eng.calls) != 1 || eng.calls[0].op != "remote" {
		t.Fatalf("calls: %+v", eng.calls)
	}
}

func TestClient_RunReturnsTransportError(t *testing.T) {
	readErr := errors.New("connection reset")
	c := newTestClient(&fakeRelay{readErr: readErr}, &fakeEngine{})

	if err := c.Run(context.Background()); !errors.Is(err, readErr) {
		t.Fatalf("Run: got %v want %v", err, readErr)
	}
}
