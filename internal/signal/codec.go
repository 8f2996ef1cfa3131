package signal

import "encoding/json"

// Nested discriminator values (the viewer's tagged encoding).
const (
	nestedTypeOffer     = "Offer"
	nestedTypeAnswer    = "Answer"
	nestedTypeCandidate = "IceCandidate"
)

// wireEnvelope probes an inbound payload without committing to either
// encoding. Pointers distinguish absent fields from zero values.
type wireEnvelope struct {
	Type *string   `json:"type"`
	SDP  *string   `json:"sdp"`
	Data *wireData `json:"data"`

	Candidate     *string `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`

	// Snake-case spellings accepted on type-less candidates so classification
	// does not depend on which peer produced the payload.
	SnakeSDPMid        *string `json:"sdp_mid"`
	SnakeSDPMLineIndex *uint16 `json:"sdp_mline_index"`
}

type wireData struct {
	SDP *string `json:"sdp"`

	Candidate     *string `json:"candidate"`
	SDPMid        *string `json:"sdp_mid"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index"`
}

type flatDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type flatCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

type nestedDescription struct {
	Type string `json:"type"`
	Data struct {
		SDP string `json:"sdp"`
	} `json:"data"`
}

type nestedCandidate struct {
	Type string `json:"type"`
	Data struct {
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdp_mid"`
		SDPMLineIndex uint16 `json:"sdp_mline_index"`
	} `json:"data"`
}

// Decode classifies payload as one of the three primitives, accepting either
// wire encoding. It enforces field presence (a missing sdp or candidate
// sub-field is a *SchemaError) but tolerates empty sdp strings, which the
// consuming engine treats as a no-op.
func Decode(payload []byte) (Primitive, error) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Primitive{}, schemaErrorf("malformed payload: %v", err)
	}

	if env.Type == nil {
		return decodeTypelessCandidate(env)
	}

	switch *env.Type {
	case string(KindOffer), string(KindAnswer):
		if env.SDP == nil {
			return Primitive{}, schemaErrorf("%s missing sdp", *env.Type)
		}
		return Primitive{Kind: Kind(*env.Type), SDP: *env.SDP}, nil

	case nestedTypeOffer, nestedTypeAnswer:
		if env.Data == nil || env.Data.SDP == nil {
			return Primitive{}, schemaErrorf("%s missing data.sdp", *env.Type)
		}
		kind := KindOffer
		if *env.Type == nestedTypeAnswer {
			kind = KindAnswer
		}
		return Primitive{Kind: kind, SDP: *env.Data.SDP}, nil

	case nestedTypeCandidate:
		if env.Data == nil || env.Data.Candidate == nil || env.Data.SDPMid == nil || env.Data.SDPMLineIndex == nil {
			return Primitive{}, schemaErrorf("%s missing candidate fields", nestedTypeCandidate)
		}
		return Primitive{
			Kind:          KindCandidate,
			Candidate:     *env.Data.Candidate,
			SDPMid:        *env.Data.SDPMid,
			SDPMLineIndex: *env.Data.SDPMLineIndex,
		}, nil

	default:
		return Primitive{}, schemaErrorf("unknown type %q", *env.Type)
	}
}

func decodeTypelessCandidate(env wireEnvelope) (Primitive, error) {
	mid := env.SDPMid
	if mid == nil {
		mid = env.SnakeSDPMid
	}
	mline := env.SDPMLineIndex
	if mline == nil {
		mline = env.SnakeSDPMLineIndex
	}

	if env.Candidate == nil || mid == nil || mline == nil {
		return Primitive{}, schemaErrorf("payload is neither a typed message nor a candidate")
	}
	return Primitive{
		Kind:          KindCandidate,
		Candidate:     *env.Candidate,
		SDPMid:        *mid,
		SDPMLineIndex: *mline,
	}, nil
}

// EncodeFlat renders p in the engine's flat encoding. It is total over
// well-formed primitives; the only failure is an unknown Kind.
func EncodeFlat(p Primitive) ([]byte, error) {
	switch p.Kind {
	case KindOffer, KindAnswer:
		return json.Marshal(flatDescription{Type: string(p.Kind), SDP: p.SDP})
	case KindCandidate:
		return json.Marshal(flatCandidate{
			Candidate:     p.Candidate,
			SDPMid:        p.SDPMid,
			SDPMLineIndex: p.SDPMLineIndex,
		})
	default:
		return nil, schemaErrorf("unknown kind %q", p.Kind)
	}
}

// EncodeNested renders p in the viewer's nested encoding.
func EncodeNested(p Primitive) ([]byte, error) {
	switch p.Kind {
	case KindOffer, KindAnswer:
		msg := nestedDescription{Type: nestedTypeOffer}
		if p.Kind == KindAnswer {
			msg.Type = nestedTypeAnswer
		}
		msg.Data.SDP = p.SDP
		return json.Marshal(msg)
	case KindCandidate:
		msg := nestedCandidate{Type: nestedTypeCandidate}
		msg.Data.Candidate = p.Candidate
		msg.Data.SDPMid = p.SDPMid
		msg.Data.SDPMLineIndex = p.SDPMLineIndex
		return json.Marshal(msg)
	default:
		return nil, schemaErrorf("unknown kind %q", p.Kind)
	}
}
