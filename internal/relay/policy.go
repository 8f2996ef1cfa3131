package relay

import (
	"errors"
	"io"
)

// Relay-side payload policy: a payload is forwarded only when it is non-empty
// and within the configured size bound. The relay never parses payloads — it
// does not need to understand them to forward them.
var (
	errEmptyPayload    = errors.New("relay: empty payload")
	errPayloadTooLarge = errors.New("relay: payload too large")
)

// readPayload reads one message body of at most max bytes. It reads at most
// max+1 bytes so an oversized frame is detected without buffering it whole;
// the WebSocket layer discards the remainder when the next frame is read.
func readPayload(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errPayloadTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errPayloadTooLarge
	}
	return b, nil
}

func checkPayload(payload []byte) error {
	if len(payload) == 0 {
		return errEmptyPayload
	}
	return nil
}
