// Package hub tracks the set of open signaling connections and fans payloads
// out to everyone but the sender.
package hub

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrFull is returned by Add when the registry is at capacity.
var ErrFull = errors.New("hub: registry full")

// Conn is one open duplex signaling channel. Identity is interface equality;
// implementations must bound WriteText with their own send deadline so a
// stalled peer cannot hold up a broadcast indefinitely.
type Conn interface {
	WriteText(payload []byte) error
}

// Registry is the live connection set.
//
// A single mutex covers every operation, including the iteration inside
// Broadcast. This is deliberately coarse: membership changes never interleave
// with an in-flight broadcast, and at a handful of peers exchanging a few
// messages there is nothing to gain from a reader/writer split.
type Registry struct {
	log      *slog.Logger
	capacity int

	mu    sync.Mutex
	conns map[Conn]struct{}
}

// New creates a registry holding at most capacity connections; capacity 0
// means unlimited (multi-party broadcast).
func New(log *slog.Logger, capacity int) *Registry {
	return &Registry{
		log:      log,
		capacity: capacity,
		conns:    make(map[Conn]struct{}),
	}
}

// Add inserts conn into the set. It fails only when the registry is at its
// configured capacity.
func (r *Registry) Add(conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity > 0 && len(r.conns) >= r.capacity {
		return ErrFull
	}
	r.conns[conn] = struct{}{}
	r.log.Info("peer connected", "total", len(r.conns))
	return nil
}

// Remove drops conn from the set. Removing an absent connection is a warning,
// not an error: close notifications can race with shutdown.
func (r *Registry) Remove(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; !ok {
		r.log.Warn("remove of untracked connection")
		return
	}
	delete(r.conns, conn)
	r.log.Info("peer disconnected", "total", len(r.conns))
}

// Count reports the current membership size. Diagnostics only.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Broadcast sends payload, verbatim, to every member other than sender.
// Per-recipient failures are counted and logged but never abort delivery to
// the remaining recipients.
func (r *Registry) Broadcast(sender Conn, payload []byte) (delivered, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.conns {
		if conn == sender {
			continue
		}
		if err := conn.WriteText(payload); err != nil {
			failed++
			r.log.Warn("broadcast send failed", "err", err)
			continue
		}
		delivered++
	}
	return delivered, failed
}
