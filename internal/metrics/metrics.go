package metrics

import "sync"

// Event names incremented by the relay. Names are intentionally simple; they
// surface as the `event` label of the Prometheus counter.
const (
	PeerConnected    = "peer_connected"
	PeerDisconnected = "peer_disconnected"
	MessageRelayed   = "message_relayed"
	SendFailure      = "send_failure"

	DropReasonEmptyPayload     = "drop_empty_payload"
	DropReasonOversizedPayload = "drop_oversized_payload"
	DropReasonBinaryFrame      = "drop_binary_frame"
	DropReasonRateLimited      = "drop_rate_limited"

	RegistryFull = "registry_full"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay only needs monotonic event counters; anything richer belongs in
// the scraping backend, not in-process.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, n uint64) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters at a point in time.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
