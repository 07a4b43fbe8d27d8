package orchestrator

import (
	"github.com/yourusername/task-relay/pkg/tasks"
)

// Config holds the coordinator configuration
type Config struct {
	// Put the in-flight task back at the head of the queue when the worker
	// disconnects or is superseded (default: false, the task is lost)
	RequeueOnWorkerLoss bool

	// Outcomes kept in the advertised history, 0 keeps all (default: 0)
	HistoryLimit int

	// Status lines kept for the dashboard (default: 50)
	RecentMessages int
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RequeueOnWorkerLoss: false,
		HistoryLimit:        0,
		RecentMessages:      50,
	}
}

// OutcomeRecorder receives every finished task outcome.
// Record is called with the coordinator lock held and must not block.
type OutcomeRecorder interface {
	Record(outcome tasks.Outcome)
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithMetrics sets the metrics sink
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRecorder sets an outcome recorder
func WithRecorder(r OutcomeRecorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}
