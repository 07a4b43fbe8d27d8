package orchestrator

import (
	"log/slog"
	"time"
)

// Peer is a connection the coordinator can push messages to.
// Send must not block; it reports false when the message was dropped.
type Peer interface {
	ID() string
	Send(event string, payload any) bool
}

// WorkerRegistry tracks the single registered worker connection.
// It is not safe for concurrent use; the Coordinator serialises access.
type WorkerRegistry struct {
	current        Peer
	registeredAt   time.Time
	everRegistered bool
}

// NewWorkerRegistry creates an empty registry
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{}
}

// Register makes peer the active worker and returns the one it replaced, if any
func (r *WorkerRegistry) Register(peer Peer) Peer {
	previous := r.current
	r.current = peer
	r.registeredAt = time.Now()
	r.everRegistered = true

	if previous != nil && previous.ID() != peer.ID() {
		slog.Warn("worker superseded", "worker_id", peer.ID(), "previous_worker_id", previous.ID())
	}
	slog.Info("worker registered", "worker_id", peer.ID())
	return previous
}

// Deregister clears the active worker if its id matches
func (r *WorkerRegistry) Deregister(id string) bool {
	if r.current == nil || r.current.ID() != id {
		return false
	}
	slog.Info("worker deregistered", "worker_id", id, "uptime", time.Since(r.registeredAt).Round(time.Second))
	r.current = nil
	r.registeredAt = time.Time{}
	return true
}

// Current returns the active worker
func (r *WorkerRegistry) Current() (Peer, bool) {
	return r.current, r.current != nil
}

// EverRegistered reports whether any worker registered since startup
func (r *WorkerRegistry) EverRegistered() bool {
	return r.everRegistered
}
