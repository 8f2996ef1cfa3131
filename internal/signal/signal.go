// Package signal models the three signaling primitives exchanged during
// session negotiation and translates them between the two wire encodings in
// circulation: the flat shape produced by the negotiation engine and the
// nested, tagged shape used by the remote viewer.
//
// Flat:   {"type":"offer"|"answer","sdp":...}
//         {"candidate":...,"sdpMid":...,"sdpMLineIndex":n}
// Nested: {"type":"Offer"|"Answer","data":{"sdp":...}}
//         {"type":"IceCandidate","data":{"candidate":...,"sdp_mid":...,"sdp_mline_index":n}}
package signal

import "fmt"

// Kind discriminates the three primitive variants.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Primitive is one signaling message. Exactly one variant is active, selected
// by Kind: SDP carries offer/answer content, the remaining fields carry a
// connectivity candidate.
//
// A Primitive lives for a single relay hop; nothing stores or replays it.
type Primitive struct {
	Kind Kind

	SDP string

	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// SchemaError reports a payload that could not be decoded as any signaling
// primitive. It is always recoverable: callers log it and drop the payload.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "signal: " + e.Reason
}

func schemaErrorf(format string, args ...any) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}
