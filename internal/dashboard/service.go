package dashboard

import (
	"context"
	"fmt"

	"github.com/yourusername/task-relay/internal/orchestrator"
	"github.com/yourusername/task-relay/pkg/tasks"
)

// StateSource provides the live coordinator state
type StateSource interface {
	Snapshot() tasks.SystemState
	RecentMessages() []orchestrator.StatusLine
	WorkerRegistered() bool
}

// OutcomeLister reads journaled outcomes
type OutcomeLister interface {
	Recent(ctx context.Context, limit int) ([]tasks.Outcome, error)
}

// Service handles data fetching for the dashboard
type Service struct {
	state       StateSource
	journal     OutcomeLister
	connections func() int
}

// NewService creates a new dashboard service; journal and connections may be nil
func NewService(state StateSource, journal OutcomeLister, connections func() int) *Service {
	return &Service{
		state:       state,
		journal:     journal,
		connections: connections,
	}
}

// Stats holds high-level dashboard statistics
type Stats struct {
	Status          string
	PendingTasks    int
	CompletedTasks  int
	FailedTasks     int
	WorkerConnected bool
	Connections     int
}

// GetStats returns dashboard statistics
func (s *Service) GetStats() *Stats {
	state := s.state.Snapshot()
	stats := &Stats{
		Status:          state.Status,
		PendingTasks:    state.PendingCount,
		WorkerConnected: s.state.WorkerRegistered(),
	}

	for _, o := range state.History {
		if o.Success {
			stats.CompletedTasks++
		} else {
			stats.FailedTasks++
		}
	}

	if s.connections != nil {
		stats.Connections = s.connections()
	}

	return stats
}

// GetState returns the current system state
func (s *Service) GetState() tasks.SystemState {
	return s.state.Snapshot()
}

// GetRecentMessages returns the latest status lines, newest first
func (s *Service) GetRecentMessages() []orchestrator.StatusLine {
	lines := s.state.RecentMessages()
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// GetJournal returns journaled outcomes, or nothing when no journal is configured
func (s *Service) GetJournal(ctx context.Context, limit int) ([]tasks.Outcome, error) {
	if s.journal == nil {
		return nil, nil
	}

	outcomes, err := s.journal.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return outcomes, nil
}
