package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func mustCompactJSON(t *testing.T, b []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	if err := json.Compact(&out, b); err != nil {
		t.Fatalf("json.Compact(%s): %v", b, err)
	}
	return out.Bytes()
}

func TestRoundTrip_BothEncodings(t *testing.T) {
	primitives := []Primitive{
		{Kind: KindOffer, SDP: "v=0\r\no=- 123 2 IN IP4 127.0.0.1\r\n"},
		{Kind: KindAnswer, SDP: "v=0\r\ns=-\r\n"},
		{Kind: KindAnswer, SDP: ""}, // empty sdp tolerated
		{Kind: KindCandidate, Candidate: "candidate:1 1 UDP 2122252543 192.168.0.7 51556 typ host", SDPMid: "0", SDPMLineIndex: 0},
		{Kind: KindCandidate, Candidate: "candidate:2 1 TCP 1019216383 10.0.0.4 9 typ host tcptype active", SDPMid: "video", SDPMLineIndex: 3},
	}

	encoders := map[string]func(Primitive) ([]byte, error){
		"flat":   EncodeFlat,
		"nested": EncodeNested,
	}

	for name, encode := range encoders {
		for _, p := range primitives {
			payload, err := encode(p)
			if err != nil {
				t.Fatalf("%s encode %+v: %v", name, p, err)
			}
			got, err := Decode(payload)
			if err != nil {
				t.Fatalf("%s decode %s: %v", name, payload, err)
			}
			if got != p {
				t.Errorf("%s round trip: got %+v want %+v", name, got, p)
			}
		}
	}
}

func TestTranslation_AnswerFidelity(t *testing.T) {
	flat := []byte(`{"type":"answer","sdp":"v=0..."}`)

	p, err := Decode(flat)
	if err != nil {
		t.Fatalf("Decode flat: %v", err)
	}
	nested, err := EncodeNested(p)
	if err != nil {
		t.Fatalf("EncodeNested: %v", err)
	}
	want := []byte(`{"type":"Answer","data":{"sdp":"v=0..."}}`)
	if !bytes.Equal(mustCompactJSON(t, nested), mustCompactJSON(t, want)) {
		t.Fatalf("nested: got %s want %s", nested, want)
	}

	p2, err := Decode(nested)
	if err != nil {
		t.Fatalf("Decode nested: %v", err)
	}
	back, err := EncodeFlat(p2)
	if err != nil {
		t.Fatalf("EncodeFlat: %v", err)
	}
	if !bytes.Equal(mustCompactJSON(t, back), mustCompactJSON(t, flat)) {
		t.Fatalf("flat: got %s want %s", back, flat)
	}
}

func TestTranslation_CandidateFieldRenaming(t *testing.T) {
	flat := []byte(`{"candidate":"candidate:1 1 UDP 2122252543 192.168.0.7 51556 typ host","sdpMid":"0","sdpMLineIndex":0}`)

	p, err := Decode(flat)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	nested, err := EncodeNested(p)
	if err != nil {
		t.Fatalf("EncodeNested: %v", err)
	}
	want := []byte(`{"type":"IceCandidate","data":{"candidate":"candidate:1 1 UDP 2122252543 192.168.0.7 51556 typ host","sdp_mid":"0","sdp_mline_index":0}}`)
	if !bytes.Equal(mustCompactJSON(t, nested), mustCompactJSON(t, want)) {
		t.Fatalf("nested: got %s want %s", nested, want)
	}
}

func TestDecode_TypelessCandidateSnakeCase(t *testing.T) {
	payload := []byte(`{"candidate":"candidate:1","sdp_mid":"audio","sdp_mline_index":2}`)
	p, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Primitive{Kind: KindCandidate, Candidate: "candidate:1", SDPMid: "audio", SDPMLineIndex: 2}
	if p != want {
		t.Fatalf("got %+v want %+v", p, want)
	}
}

func TestDecode_DropsUsernameFragment(t *testing.T) {
	payload := []byte(`{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0,"usernameFragment":"abcd"}`)
	p, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	flat, err := EncodeFlat(p)
	if err != nil {
		t.Fatalf("EncodeFlat: %v", err)
	}
	if bytes.Contains(flat, []byte("usernameFragment")) {
		t.Fatalf("usernameFragment must not survive translation: %s", flat)
	}
}

func TestDecode_SchemaErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"json scalar", `42`},
		{"unclassifiable object", `{"foo":"bar"}`},
		{"unknown type", `{"type":"bye"}`},
		{"offer missing sdp", `{"type":"offer"}`},
		{"nested offer missing data", `{"type":"Offer"}`},
		{"nested answer missing data.sdp", `{"type":"Answer","data":{}}`},
		{"nested candidate missing mline", `{"type":"IceCandidate","data":{"candidate":"c","sdp_mid":"0"}}`},
		{"candidate missing mid", `{"candidate":"c","sdpMLineIndex":0}`},
		{"sdp wrong type", `{"type":"offer","sdp":7}`},
		{"negative mline", `{"candidate":"c","sdpMid":"0","sdpMLineIndex":-1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.payload))
			if err == nil {
				t.Fatalf("expected error")
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %T: %v", err, err)
			}
		})
	}
}

func TestEncode_UnknownKind(t *testing.T) {
	if _, err := EncodeFlat(Primitive{Kind: "bye"}); err == nil {
		t.Fatalf("EncodeFlat: expected error")
	}
	if _, err := EncodeNested(Primitive{}); err == nil {
		t.Fatalf("EncodeNested: expected error")
	}
}
