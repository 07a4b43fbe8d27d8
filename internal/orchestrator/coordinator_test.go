package orchestrator

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/task-relay/pkg/tasks"
)

type sentMessage struct {
	event   string
	payload any
}

// fakePeer records everything sent to it
type fakePeer struct {
	id     string
	reject bool

	mu   sync.Mutex
	sent []sentMessage
}

func newPeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(event string, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false
	}
	p.sent = append(p.sent, sentMessage{event: event, payload: payload})
	return true
}

func (p *fakePeer) messages(event string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.sent {
		if m.event == event {
			out = append(out, m.payload)
		}
	}
	return out
}

func (p *fakePeer) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePeer) assignments() []tasks.Task {
	var out []tasks.Task
	for _, m := range p.messages(tasks.EventTaskAssignment) {
		out = append(out, m.(tasks.Task))
	}
	return out
}

func (p *fakePeer) syncs() []tasks.StateSync {
	var out []tasks.StateSync
	for _, m := range p.messages(tasks.EventStateSync) {
		out = append(out, m.(tasks.StateSync))
	}
	return out
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Record(outcome tasks.Outcome) {
	m.Called(outcome)
}

func newTestCoordinator(t *testing.T, config *Config, opts ...Option) (*Coordinator, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithMetrics(metrics)}, opts...)
	return NewCoordinator(config, opts...), metrics
}

func task(event string) tasks.Task {
	return tasks.Task{ID: tasks.NewID(), Event: event}
}

func TestEnqueueWhileOffline(t *testing.T) {
	c, metrics := newTestCoordinator(t, nil)
	observer := newPeer("obs")
	c.AddObserver(observer)

	for i := 1; i <= 5; i++ {
		c.Enqueue(task(fmt.Sprintf("E%d", i)))

		state := c.Snapshot()
		assert.Equal(t, tasks.StatusOffline, state.Status)
		assert.Equal(t, i, state.PendingCount)
		assert.Len(t, state.Pending, i)
	}

	assert.Equal(t, []string{"E1", "E2", "E3", "E4", "E5"}, c.Snapshot().Pending)
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.tasksEnqueued))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.tasksPending))

	// initial sync plus one per enqueue
	syncs := observer.syncs()
	require.Len(t, syncs, 6)
	assert.Equal(t, "Synchronized.", syncs[0].Message)
	for _, s := range syncs {
		assert.Equal(t, s.State.PendingCount, len(s.State.Pending))
	}
}

func TestRegisterWorkerDispatchesOldest(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	c.Enqueue(task("E1"))
	c.Enqueue(task("E2"))
	c.Enqueue(task("E3"))

	worker := newPeer("w1")
	c.RegisterWorker(worker)

	assert.Equal(t, tasks.StatusBusy, c.Status())
	assert.Equal(t, []string{"E2", "E3"}, c.Snapshot().Pending)

	assigned := worker.assignments()
	require.Len(t, assigned, 1)
	assert.Equal(t, "E1", assigned[0].Event)
}

func TestRegisterWorkerWithEmptyQueueIsIdle(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	worker := newPeer("w1")
	c.RegisterWorker(worker)

	assert.Equal(t, tasks.StatusIdle, c.Status())
	assert.Empty(t, worker.assignments())
	assert.True(t, c.WorkerRegistered())
	assert.True(t, c.WorkerEverRegistered())
}

func TestEnqueueWhileIdleDispatchesImmediately(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	worker := newPeer("w1")
	c.RegisterWorker(worker)

	c.Enqueue(task("E1"))

	assert.Equal(t, tasks.StatusBusy, c.Status())
	assert.Empty(t, c.Snapshot().Pending)
	require.Len(t, worker.assignments(), 1)

	c.Enqueue(task("E2"))
	assert.Equal(t, []string{"E2"}, c.Snapshot().Pending)
	assert.Len(t, worker.assignments(), 1, "busy worker must not receive a second task")
}

func TestDrainIsMonotonic(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	for i := 1; i <= 4; i++ {
		c.Enqueue(task(fmt.Sprintf("E%d", i)))
	}

	observer := newPeer("obs")
	c.AddObserver(observer)

	worker := newPeer("w1")
	c.RegisterWorker(worker)
	for i := 1; i <= 4; i++ {
		c.CompleteCurrent(fmt.Sprintf("E%d", i), true, "")
	}

	assert.Equal(t, tasks.StatusIdle, c.Status())
	require.Len(t, worker.assignments(), 4)
	for i, a := range worker.assignments() {
		assert.Equal(t, fmt.Sprintf("E%d", i+1), a.Event)
	}

	last := 4
	for _, s := range observer.syncs() {
		assert.LessOrEqual(t, s.State.PendingCount, last)
		last = s.State.PendingCount
	}
	assert.Zero(t, last)
}

func TestDispatchRoundTrip(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	original := tasks.Task{
		ID:        tasks.NewID(),
		Event:     "PE-2024-001",
		Prices:    []json.RawMessage{json.RawMessage(`{"item":1,"value":"10.50"}`), json.RawMessage(`{"item":2,"value":"3.00"}`)},
		Deadlines: []json.RawMessage{json.RawMessage(`{"item":1,"days":30}`)},
		Attachments: map[string][]tasks.Attachment{
			tasks.RoleDatasheet:    {{Name: "sheet.pdf", Data: []byte("%PDF-1.4 sheet")}},
			tasks.RoleConfirmation: {{Name: "dav.pdf", Data: []byte("%PDF-1.4 dav")}},
		},
	}
	c.Enqueue(original)

	worker := newPeer("w1")
	c.RegisterWorker(worker)

	assigned := worker.assignments()
	require.Len(t, assigned, 1)
	got := assigned[0]
	assert.Equal(t, original.Event, got.Event)
	assert.Equal(t, original.Prices, got.Prices)
	assert.Equal(t, original.Deadlines, got.Deadlines)
	assert.Equal(t, original.AttachmentNames(tasks.RoleDatasheet), got.AttachmentNames(tasks.RoleDatasheet))
	assert.Equal(t, original.Attachments, got.Attachments)
	assert.Equal(t, original, got)
}

func TestWorkerLossDropsInFlightTask(t *testing.T) {
	c, metrics := newTestCoordinator(t, nil)
	c.Enqueue(task("E1"))
	c.Enqueue(task("E2"))

	worker := newPeer("w1")
	c.RegisterWorker(worker)
	require.Equal(t, tasks.StatusBusy, c.Status())

	c.UnregisterWorker("w1")

	state := c.Snapshot()
	assert.Equal(t, tasks.StatusOffline, state.Status)
	assert.Equal(t, []string{"E2"}, state.Pending)
	assert.False(t, c.WorkerRegistered())
	assert.True(t, c.WorkerEverRegistered())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.tasksLost))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.tasksRequeued))
}

func TestWorkerLossRequeuesWhenConfigured(t *testing.T) {
	config := DefaultConfig()
	config.RequeueOnWorkerLoss = true
	c, metrics := newTestCoordinator(t, config)
	c.Enqueue(task("E1"))
	c.Enqueue(task("E2"))

	c.RegisterWorker(newPeer("w1"))
	c.UnregisterWorker("w1")

	assert.Equal(t, []string{"E1", "E2"}, c.Snapshot().Pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.tasksRequeued))

	worker := newPeer("w2")
	c.RegisterWorker(worker)
	require.Len(t, worker.assignments(), 1)
	assert.Equal(t, "E1", worker.assignments()[0].Event)
}

func TestUnregisterIgnoresOtherConnections(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	c.RegisterWorker(newPeer("w1"))

	c.UnregisterWorker("obs")
	assert.Equal(t, tasks.StatusIdle, c.Status())
	assert.True(t, c.WorkerRegistered())
}

func TestSecondWorkerSupersedesFirst(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	c.Enqueue(task("E1"))
	c.Enqueue(task("E2"))

	first := newPeer("w1")
	c.RegisterWorker(first)
	second := newPeer("w2")
	c.RegisterWorker(second)

	assert.Equal(t, tasks.StatusBusy, c.Status())
	require.Len(t, second.assignments(), 1)
	assert.Equal(t, "E2", second.assignments()[0].Event)

	// the old worker going away has no effect on the current one
	c.UnregisterWorker("w1")
	assert.Equal(t, tasks.StatusBusy, c.Status())
	assert.True(t, c.WorkerRegistered())

	// completions are not checked against the sender
	c.CompleteCurrent("E2", true, "")
	assert.Equal(t, tasks.StatusIdle, c.Status())
}

func TestScenario(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	c.Enqueue(task("E1"))
	c.Enqueue(task("E2"))
	state := c.Snapshot()
	assert.Equal(t, tasks.StatusOffline, state.Status)
	assert.Equal(t, []string{"E1", "E2"}, state.Pending)

	worker := newPeer("W")
	c.RegisterWorker(worker)
	state = c.Snapshot()
	assert.Equal(t, tasks.StatusBusy, state.Status)
	assert.Equal(t, []string{"E2"}, state.Pending)
	require.Len(t, worker.assignments(), 1)
	assert.Equal(t, "E1", worker.assignments()[0].Event)

	c.CompleteCurrent("E1", true, "")
	state = c.Snapshot()
	assert.Equal(t, tasks.StatusBusy, state.Status)
	assert.Empty(t, state.Pending)
	assert.Equal(t, 0, state.PendingCount)
	require.Len(t, worker.assignments(), 2)
	assert.Equal(t, "E2", worker.assignments()[1].Event)
	require.Len(t, state.History, 1)
	assert.Equal(t, "E1", state.History[0].String())

	c.CompleteCurrent("E2", false, "timeout")
	state = c.Snapshot()
	assert.Equal(t, tasks.StatusIdle, state.Status)
	require.Len(t, state.History, 2)
	assert.Equal(t, "E1", state.History[0].String())
	assert.Equal(t, "E2 (failed: timeout)", state.History[1].String())
}

func TestCompletionOutsideBusyIsIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	c.CompleteCurrent("E1", true, "")
	assert.Equal(t, tasks.StatusOffline, c.Status())

	c.RegisterWorker(newPeer("w1"))
	c.CompleteCurrent("E1", true, "")
	assert.Equal(t, tasks.StatusIdle, c.Status())
	assert.Empty(t, c.Snapshot().History)
}

func TestHistoryLimit(t *testing.T) {
	config := DefaultConfig()
	config.HistoryLimit = 2
	c, _ := newTestCoordinator(t, config)
	c.RegisterWorker(newPeer("w1"))

	for i := 1; i <= 3; i++ {
		e := fmt.Sprintf("E%d", i)
		c.Enqueue(task(e))
		c.CompleteCurrent(e, true, "")
	}

	history := c.Snapshot().History
	require.Len(t, history, 2)
	assert.Equal(t, "E2", history[0].Event)
	assert.Equal(t, "E3", history[1].Event)
}

func TestRecorderReceivesOutcomes(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("Record", mock.MatchedBy(func(o tasks.Outcome) bool {
		return o.Event == "E1" && o.Success
	})).Once()
	recorder.On("Record", mock.MatchedBy(func(o tasks.Outcome) bool {
		return o.Event == "E2" && !o.Success && o.Error == "boom"
	})).Once()

	c, _ := newTestCoordinator(t, nil, WithRecorder(recorder))
	c.Enqueue(task("E1"))
	c.Enqueue(task("E2"))
	c.RegisterWorker(newPeer("w1"))
	c.CompleteCurrent("E1", true, "")
	c.CompleteCurrent("E2", false, "boom")

	recorder.AssertExpectations(t)
}

func TestRelayWithoutWorkerIsDropped(t *testing.T) {
	c, metrics := newTestCoordinator(t, nil)
	observer := newPeer("obs")
	c.AddObserver(observer)
	before := observer.total()

	c.RelayCommand(json.RawMessage(`{"action":"start"}`))
	c.RelayChallengeResponse(json.RawMessage(`{"x":10,"y":20}`))
	c.RelayChallengeImage(json.RawMessage(`"aW1hZ2U="`))

	assert.Equal(t, before, observer.total())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.relaysDropped.WithLabelValues(relayCommand)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.relaysDropped.WithLabelValues(relayChallengeImage)))
}

func TestRelaysWithWorker(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	observer := newPeer("obs")
	other := newPeer("obs2")
	c.AddObserver(observer)
	c.AddObserver(other)
	worker := newPeer("w1")
	c.RegisterWorker(worker)

	command := json.RawMessage(`{"action":"verify"}`)
	c.RelayCommand(command)
	require.Len(t, worker.messages(tasks.EventCommand), 1)
	assert.Equal(t, command, worker.messages(tasks.EventCommand)[0])

	image := json.RawMessage(`{"image":"aW1n"}`)
	c.RelayChallengeImage(image)
	for _, p := range []*fakePeer{observer, other} {
		require.Len(t, p.messages(tasks.EventForwardedChallengeImage), 1)
		assert.Equal(t, image, p.messages(tasks.EventForwardedChallengeImage)[0])
	}
	assert.Empty(t, worker.messages(tasks.EventForwardedChallengeImage))

	answer := json.RawMessage(`{"x":1,"y":2}`)
	c.RelayChallengeResponse(answer)
	require.Len(t, worker.messages(tasks.EventForwardedChallengeResponse), 1)
	assert.Equal(t, answer, worker.messages(tasks.EventForwardedChallengeResponse)[0])

	syncs := observer.syncs()
	assert.Equal(t, "Sending challenge response to the worker...", syncs[len(syncs)-1].Message)
}

func TestRemovedObserverStopsReceiving(t *testing.T) {
	c, metrics := newTestCoordinator(t, nil)
	observer := newPeer("obs")
	c.AddObserver(observer)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.observersConnected))

	c.RemoveObserver("obs")
	before := observer.total()
	c.Enqueue(task("E1"))

	assert.Equal(t, before, observer.total())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.observersConnected))
}

func TestConcurrentEventsKeepInvariants(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	worker := newPeer("w1")
	c.RegisterWorker(worker)

	const producers = 8
	const perProducer = 25

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				c.Enqueue(task(fmt.Sprintf("P%d-%d", p, i)))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		completed := 0
		for completed < producers*perProducer {
			if c.Status() != tasks.StatusBusy {
				runtime.Gosched()
				continue
			}
			c.CompleteCurrent("x", true, "")
			completed++
		}
	}()

	wg.Wait()
	<-done

	state := c.Snapshot()
	assert.Equal(t, tasks.StatusIdle, state.Status)
	assert.Zero(t, state.PendingCount)
	assert.Len(t, state.History, producers*perProducer)
	assert.Len(t, worker.assignments(), producers*perProducer)
}
