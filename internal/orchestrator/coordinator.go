package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/task-relay/pkg/tasks"
)

// Relay kinds used for logging and metrics
const (
	relayChallengeImage    = "challenge_image"
	relayChallengeResponse = "challenge_response"
	relayCommand           = "command"
)

// Coordinator owns the task queue and the worker registry and drives the
// offline/idle/busy state machine. All methods are safe for concurrent use.
type Coordinator struct {
	config      *Config
	queue       *TaskQueue
	workers     *WorkerRegistry
	broadcaster *Broadcaster
	metrics     *Metrics
	recorder    OutcomeRecorder

	status       string
	history      []tasks.Outcome
	inFlight     *tasks.Task // kept only when RequeueOnWorkerLoss is set
	dispatchedAt time.Time

	mu sync.Mutex
}

// NewCoordinator creates a coordinator in the offline state
func NewCoordinator(config *Config, opts ...Option) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Coordinator{
		config:      config,
		queue:       NewTaskQueue(),
		workers:     NewWorkerRegistry(),
		broadcaster: NewBroadcaster(config.RecentMessages),
		status:      tasks.StatusOffline,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}

	return c
}

// Enqueue appends a task to the queue and dispatches it right away if the worker is idle
func (c *Coordinator) Enqueue(task tasks.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Push(task)
	c.metrics.tasksEnqueued.Inc()
	slog.Info("task enqueued", "task_id", task.ID, "event", task.Event, "pending", c.queue.Len(), "status", c.status)

	c.publishLocked(fmt.Sprintf("Event %s added to the queue.", task.Event))

	if c.status == tasks.StatusIdle {
		c.dispatchNextLocked()
	}
}

// RegisterWorker makes peer the worker, moves to idle and drains any backlog
func (c *Coordinator) RegisterWorker(peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.workers.Register(peer)
	if c.status == tasks.StatusBusy {
		c.loseInFlightLocked()
	}
	c.status = tasks.StatusIdle
	c.metrics.workerConnected.Set(1)

	c.publishLocked("Worker connected and ready.")
	c.dispatchNextLocked()
}

// UnregisterWorker moves to offline if id is the registered worker.
// The task in flight, if any, is dropped unless RequeueOnWorkerLoss is set.
func (c *Coordinator) UnregisterWorker(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.workers.Deregister(id) {
		return
	}
	if c.status == tasks.StatusBusy {
		c.loseInFlightLocked()
	}
	c.status = tasks.StatusOffline
	c.metrics.workerConnected.Set(0)

	slog.Warn("worker lost", "worker_id", id, "pending", c.queue.Len())
	c.publishLocked("ALERT: the worker disconnected!")
}

// CompleteCurrent records the outcome of the task in flight and dispatches the next one
func (c *Coordinator) CompleteCurrent(event string, success bool, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != tasks.StatusBusy {
		slog.Warn("completion ignored, no task in flight", "event", event, "status", c.status)
		return
	}

	outcome := tasks.Outcome{
		Event:       event,
		Success:     success,
		Error:       errText,
		CompletedAt: time.Now(),
	}
	c.history = append(c.history, outcome)
	if limit := c.config.HistoryLimit; limit > 0 && len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}
	c.inFlight = nil

	status := "success"
	if !success {
		status = "failed"
	}
	c.metrics.tasksCompleted.WithLabelValues(status).Inc()
	c.metrics.taskDuration.Observe(time.Since(c.dispatchedAt).Seconds())

	if c.recorder != nil {
		c.recorder.Record(outcome)
	}

	var message string
	if success {
		slog.Info("task completed", "event", event, "duration", time.Since(c.dispatchedAt).Round(time.Millisecond))
		message = fmt.Sprintf("Event %s completed by the worker.", event)
	} else {
		slog.Warn("task failed", "event", event, "error", errText)
		message = fmt.Sprintf("Worker error on event %s: %s", event, errText)
	}

	c.status = tasks.StatusIdle
	c.publishLocked(message)
	c.dispatchNextLocked()
}

// AddObserver joins peer to the broadcast group and sends it the current state
func (c *Coordinator) AddObserver(peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broadcaster.Add(peer)
	c.metrics.observersConnected.Set(float64(c.broadcaster.Count()))
	slog.Debug("observer joined", "conn_id", peer.ID())

	peer.Send(tasks.EventStateSync, tasks.StateSync{State: c.snapshotLocked(), Message: "Synchronized."})
}

// RemoveObserver drops peer from the broadcast group
func (c *Coordinator) RemoveObserver(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broadcaster.Remove(id) {
		c.metrics.observersConnected.Set(float64(c.broadcaster.Count()))
		slog.Debug("observer left", "conn_id", id)
	}
}

// RelayChallengeImage forwards a challenge image from the worker to all observers
func (c *Coordinator) RelayChallengeImage(payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.workerLocked(relayChallengeImage); !ok {
		return
	}
	c.broadcaster.Forward(tasks.EventForwardedChallengeImage, payload)
	c.metrics.relays.WithLabelValues(relayChallengeImage).Inc()
}

// RelayChallengeResponse forwards an observer's challenge answer to the worker
func (c *Coordinator) RelayChallengeResponse(payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	worker, ok := c.workerLocked(relayChallengeResponse)
	if !ok {
		return
	}
	c.sendLocked(worker, tasks.EventForwardedChallengeResponse, payload, relayChallengeResponse)
	c.publishLocked("Sending challenge response to the worker...")
}

// RelayCommand forwards an observer's direct command to the worker
func (c *Coordinator) RelayCommand(payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	worker, ok := c.workerLocked(relayCommand)
	if !ok {
		return
	}
	c.sendLocked(worker, tasks.EventCommand, payload, relayCommand)
}

// Snapshot returns the current system state
func (c *Coordinator) Snapshot() tasks.SystemState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Status returns offline, idle or busy
func (c *Coordinator) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// WorkerRegistered reports whether a worker is registered right now
func (c *Coordinator) WorkerRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.workers.Current()
	return ok
}

// WorkerEverRegistered reports whether a worker has registered since startup
func (c *Coordinator) WorkerEverRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workers.EverRegistered()
}

// RecentMessages returns the latest published status lines
func (c *Coordinator) RecentMessages() []StatusLine {
	return c.broadcaster.Recent()
}

// dispatchNextLocked pops the head task and forwards it when the worker is idle
func (c *Coordinator) dispatchNextLocked() {
	if c.status != tasks.StatusIdle || c.queue.Len() == 0 {
		return
	}

	worker, ok := c.workers.Current()
	if !ok {
		slog.Error("idle without a registered worker", "pending", c.queue.Len())
		return
	}

	task, err := c.queue.Pop()
	if err != nil {
		slog.Error("dispatch failed", "error", err)
		return
	}

	c.status = tasks.StatusBusy
	c.dispatchedAt = time.Now()
	if c.config.RequeueOnWorkerLoss {
		kept := task
		c.inFlight = &kept
	}
	c.metrics.tasksDispatched.Inc()

	c.publishLocked(fmt.Sprintf("Sending event %s to the worker...", task.Event))

	if !worker.Send(tasks.EventTaskAssignment, task.Clone()) {
		slog.Error("task assignment dropped", "worker_id", worker.ID(), "task_id", task.ID, "event", task.Event)
		return
	}
	slog.Info("task dispatched", "worker_id", worker.ID(), "task_id", task.ID, "event", task.Event, "pending", c.queue.Len())
}

// loseInFlightLocked accounts for a task the worker will never report on
func (c *Coordinator) loseInFlightLocked() {
	c.metrics.tasksLost.Inc()

	if c.inFlight == nil {
		slog.Warn("task in flight lost")
		return
	}

	task := *c.inFlight
	c.inFlight = nil
	c.queue.PushFront(task)
	c.metrics.tasksRequeued.Inc()
	slog.Warn("task in flight requeued", "task_id", task.ID, "event", task.Event)
}

func (c *Coordinator) workerLocked(kind string) (Peer, bool) {
	worker, ok := c.workers.Current()
	if !ok {
		c.metrics.relaysDropped.WithLabelValues(kind).Inc()
		slog.Info("relay dropped, no worker registered", "kind", kind)
	}
	return worker, ok
}

func (c *Coordinator) sendLocked(worker Peer, event string, payload any, kind string) {
	if !worker.Send(event, payload) {
		slog.Warn("relay to worker dropped", "worker_id", worker.ID(), "kind", kind)
		return
	}
	c.metrics.relays.WithLabelValues(kind).Inc()
}

func (c *Coordinator) publishLocked(message string) {
	c.metrics.tasksPending.Set(float64(c.queue.Len()))
	c.broadcaster.Publish(c.snapshotLocked(), message)
}

func (c *Coordinator) snapshotLocked() tasks.SystemState {
	labels := c.queue.Labels()
	history := make([]tasks.Outcome, len(c.history))
	copy(history, c.history)

	return tasks.SystemState{
		Status:       c.status,
		PendingCount: len(labels),
		Pending:      labels,
		History:      history,
	}
}
