// Package engine wraps a pion PeerConnection behind the flat-JSON signaling
// surface the signaling client drives: two entry points taking flat-encoded
// payloads, and one callback emitting them.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// InputChannelLabel is the DataChannel label the viewer uses for interaction
// events.
const InputChannelLabel = "input"

// NewAPI builds the webrtc API every peer connection is created from. pion's
// internals log through logger via the LoggerFactory bridge. nw overrides the
// host network stack (virtual networks in tests); nil uses the real one.
func NewAPI(logger *slog.Logger, nw transport.Net) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: newLoggerFactory(logger),
	}
	if nw != nil {
		se.SetNet(nw)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// Engine owns one PeerConnection on the render-host side. It answers remote
// offers, trickles local candidates through the signal callback, carries the
// rendered scene on a VP9 sample track, and surfaces the viewer's input
// channel payloads.
type Engine struct {
	log   *slog.Logger
	pc    *webrtc.PeerConnection
	video *webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	onSignal func(flat []byte)
	onInput  func(data []byte)
}

func New(api *webrtc.API, logger *slog.Logger, iceServers []webrtc.ICEServer) (*Engine, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9},
		"video", "scenecast",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("new video track: %w", err)
	}
	if _, err := pc.AddTrack(video); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	// The viewer opens its own input channel; declaring one locally keeps the
	// application m-line available across renegotiation.
	ordered := true
	if _, err := pc.CreateDataChannel(InputChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create input channel: %w", err)
	}

	e := &Engine{log: logger, pc: pc, video: video}
	pc.OnICECandidate(e.handleLocalCandidate)
	pc.OnConnectionStateChange(e.handleStateChange)
	pc.OnDataChannel(e.handleDataChannel)
	return e, nil
}

// OnSignal registers the callback invoked with each flat-encoded local
// signaling event: trickled candidates, and the answer produced after an
// offer is applied. Callbacks fire on pion's goroutines.
func (e *Engine) OnSignal(fn func(flat []byte)) {
	e.mu.Lock()
	e.onSignal = fn
	e.mu.Unlock()
}

// OnInput registers the callback invoked with each payload of the viewer's
// input channel.
func (e *Engine) OnInput(fn func(data []byte)) {
	e.mu.Lock()
	e.onInput = fn
	e.mu.Unlock()
}

// SetRemoteDescription applies a flat-encoded remote description. When it is
// an offer, the answer is created, applied locally, and emitted through the
// signal callback. An empty sdp is a no-op.
func (e *Engine) SetRemoteDescription(flat []byte) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(flat, &desc); err != nil {
		return fmt.Errorf("parse remote description: %w", err)
	}
	if desc.SDP == "" {
		e.log.Debug("ignoring remote description with empty sdp", "type", desc.Type.String())
		return nil
	}

	e.log.Info("setting remote description", "type", desc.Type.String())
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	b, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	e.emitSignal(b)
	return nil
}

// AddICECandidate applies a flat-encoded remote candidate.
func (e *Engine) AddICECandidate(flat []byte) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(flat, &init); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// WriteVideoSample hands one encoded VP9 frame to the video track. The frame
// bytes are opaque here; encoding happens upstream.
func (e *Engine) WriteVideoSample(data []byte, duration time.Duration) error {
	return e.video.WriteSample(media.Sample{Data: data, Duration: duration})
}

func (e *Engine) Close() error {
	return e.pc.Close()
}

func (e *Engine) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		// End of gathering.
		return
	}
	b, err := json.Marshal(c.ToJSON())
	if err != nil {
		e.log.Error("encode local candidate", "err", err)
		return
	}
	e.emitSignal(b)
}

func (e *Engine) handleStateChange(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		e.log.Info("peer connection connected")
	case webrtc.PeerConnectionStateFailed:
		e.log.Error("peer connection failed")
	case webrtc.PeerConnectionStateDisconnected:
		e.log.Warn("peer connection disconnected")
	case webrtc.PeerConnectionStateClosed:
		e.log.Info("peer connection closed")
	}
}

func (e *Engine) handleDataChannel(dc *webrtc.DataChannel) {
	e.log.Info("new data channel", "label", dc.Label())
	if dc.Label() != InputChannelLabel {
		return
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// Copy because pion reuses internal buffers.
		data := append([]byte(nil), msg.Data...)
		e.mu.Lock()
		fn := e.onInput
		e.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	})
}

func (e *Engine) emitSignal(flat []byte) {
	e.mu.Lock()
	fn := e.onSignal
	e.mu.Unlock()
	if fn == nil {
		e.log.Warn("dropping local signaling event: no signal callback registered")
		return
	}
	fn(flat)
}
