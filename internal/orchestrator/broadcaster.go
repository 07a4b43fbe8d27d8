package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/yourusername/task-relay/pkg/tasks"
)

// StatusLine is a human-readable message published with a state snapshot
type StatusLine struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Broadcaster fans state snapshots out to observer connections
type Broadcaster struct {
	observers map[string]Peer
	recent    []StatusLine
	maxRecent int
	mu        sync.RWMutex
}

// NewBroadcaster creates a broadcaster keeping the last maxRecent status lines
func NewBroadcaster(maxRecent int) *Broadcaster {
	if maxRecent < 0 {
		maxRecent = 0
	}
	return &Broadcaster{
		observers: make(map[string]Peer),
		recent:    make([]StatusLine, 0, maxRecent),
		maxRecent: maxRecent,
	}
}

// Add joins a peer to the observer group
func (b *Broadcaster) Add(peer Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[peer.ID()] = peer
}

// Remove drops a peer from the observer group
func (b *Broadcaster) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[id]; !ok {
		return false
	}
	delete(b.observers, id)
	return true
}

// Count returns the number of observers
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Publish sends a state snapshot and optional status line to every observer
func (b *Broadcaster) Publish(state tasks.SystemState, message string) {
	if message != "" {
		b.mu.Lock()
		if b.maxRecent > 0 {
			if len(b.recent) >= b.maxRecent {
				b.recent = b.recent[1:]
			}
			b.recent = append(b.recent, StatusLine{Time: time.Now(), Message: message})
		}
		b.mu.Unlock()
	}

	b.Forward(tasks.EventStateSync, tasks.StateSync{State: state, Message: message})
}

// Forward sends an arbitrary event to every observer
func (b *Broadcaster) Forward(event string, payload any) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, peer := range b.observers {
		// Send never blocks, so a slow observer cannot stall the others
		if peer.Send(event, payload) {
			delivered++
		} else {
			slog.Warn("observer message dropped", "conn_id", id, "event", event)
		}
	}
	return delivered
}

// Recent returns a copy of the latest status lines, oldest first
func (b *Broadcaster) Recent() []StatusLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]StatusLine, len(b.recent))
	copy(out, b.recent)
	return out
}
