package orchestrator

import (
	"github.com/yourusername/task-relay/pkg/tasks"
)

// TaskQueue is a FIFO of pending tasks.
// It is not safe for concurrent use; the Coordinator serialises access.
type TaskQueue struct {
	items []tasks.Task
}

// NewTaskQueue creates an empty queue
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push appends a task at the tail
func (q *TaskQueue) Push(task tasks.Task) {
	q.items = append(q.items, task)
}

// PushFront puts a task back at the head of the queue
func (q *TaskQueue) PushFront(task tasks.Task) {
	q.items = append([]tasks.Task{task}, q.items...)
}

// Pop removes and returns the head task
func (q *TaskQueue) Pop() (tasks.Task, error) {
	if len(q.items) == 0 {
		return tasks.Task{}, ErrEmptyQueue
	}
	task := q.items[0]
	q.items[0] = tasks.Task{}
	q.items = q.items[1:]
	return task, nil
}

// Len returns the number of pending tasks
func (q *TaskQueue) Len() int {
	return len(q.items)
}

// Labels returns the event labels of pending tasks in queue order
func (q *TaskQueue) Labels() []string {
	labels := make([]string, len(q.items))
	for i, t := range q.items {
		labels[i] = t.Event
	}
	return labels
}
