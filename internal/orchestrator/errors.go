package orchestrator

import "errors"

var (
	// ErrEmptyQueue is returned when popping from an empty queue
	ErrEmptyQueue = errors.New("task queue is empty")

	// ErrNoWorkerRegistered is returned when work is refused because no worker is available
	ErrNoWorkerRegistered = errors.New("worker unavailable")
)
