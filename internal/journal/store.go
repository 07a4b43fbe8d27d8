package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/task-relay/pkg/tasks"
)

//go:embed migrations/001_outcomes.sql
var schemaSQL string

const writeTimeout = 5 * time.Second

// Store appends task outcomes to PostgreSQL. Writes happen on a background
// loop so Record never waits on the database.
type Store struct {
	db      *sql.DB
	pending chan tasks.Outcome
}

// NewStore creates a store buffering up to buffer outcomes
func NewStore(db *sql.DB, buffer int) *Store {
	return &Store{
		db:      db,
		pending: make(chan tasks.Outcome, buffer),
	}
}

// Migrate creates the outcome table if needed
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	slog.Info("journal migrations completed")
	return nil
}

// Record queues an outcome for writing; it drops the outcome if the buffer is full
func (s *Store) Record(outcome tasks.Outcome) {
	select {
	case s.pending <- outcome:
	default:
		slog.Warn("journal buffer full, outcome dropped", "event", outcome.Event)
	}
}

// Run writes queued outcomes until ctx is cancelled, then flushes what is left
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case outcome := <-s.pending:
			s.write(outcome)
		}
	}
}

func (s *Store) flush() {
	for {
		select {
		case outcome := <-s.pending:
			s.write(outcome)
		default:
			return
		}
	}
}

// write inserts with its own deadline so queued outcomes survive shutdown
func (s *Store) write(outcome tasks.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.Insert(ctx, outcome); err != nil {
		slog.Error("failed to journal outcome", "event", outcome.Event, "error", err)
	}
}

// Insert writes one outcome
func (s *Store) Insert(ctx context.Context, outcome tasks.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outcomes (event, success, error, completed_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, outcome.Event, outcome.Success, outcome.Error, outcome.CompletedAt)

	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// Recent returns the latest outcomes, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]tasks.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event, success, error, completed_at
		FROM task_outcomes
		ORDER BY completed_at DESC, id DESC
		LIMIT $1
	`, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []tasks.Outcome
	for rows.Next() {
		var o tasks.Outcome
		var errText sql.NullString
		if err := rows.Scan(&o.Event, &o.Success, &errText, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if errText.Valid {
			o.Error = errText.String
		}
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
