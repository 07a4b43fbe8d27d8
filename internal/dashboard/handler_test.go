package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/task-relay/internal/orchestrator"
	"github.com/yourusername/task-relay/pkg/tasks"
)

type fakeState struct {
	state    tasks.SystemState
	messages []orchestrator.StatusLine
	worker   bool
}

func (f *fakeState) Snapshot() tasks.SystemState { return f.state }

func (f *fakeState) RecentMessages() []orchestrator.StatusLine {
	out := make([]orchestrator.StatusLine, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeState) WorkerRegistered() bool { return f.worker }

type fakeJournal struct {
	outcomes []tasks.Outcome
	err      error
}

func (f *fakeJournal) Recent(ctx context.Context, limit int) ([]tasks.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.outcomes) > limit {
		return f.outcomes[:limit], nil
	}
	return f.outcomes, nil
}

func newTestMux(state StateSource, journal OutcomeLister) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(NewService(state, journal, func() int { return 3 })).RegisterRoutes(mux)
	return mux
}

func sampleState() *fakeState {
	return &fakeState{
		state: tasks.SystemState{
			Status:       tasks.StatusBusy,
			PendingCount: 2,
			Pending:      []string{"E2", "E3"},
			History: []tasks.Outcome{
				{Event: "E0", Success: true},
				{Event: "E1", Error: "timeout"},
			},
		},
		messages: []orchestrator.StatusLine{
			{Time: time.Now(), Message: "first"},
			{Time: time.Now(), Message: "second"},
		},
		worker: true,
	}
}

func TestIndexRendersState(t *testing.T) {
	mux := newTestMux(sampleState(), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "status-busy")
	assert.Contains(t, body, "<li>E2</li>")
	assert.Contains(t, body, "E1 (failed: timeout)")
	assert.Contains(t, body, "second")
	assert.NotContains(t, body, "<h2>Journal</h2>")
}

func TestIndexRendersJournal(t *testing.T) {
	journal := &fakeJournal{outcomes: []tasks.Outcome{{Event: "OLD-1", Success: true, CompletedAt: time.Now()}}}
	mux := newTestMux(sampleState(), journal)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "OLD-1")
}

func TestIndexSurvivesJournalError(t *testing.T) {
	mux := newTestMux(sampleState(), &fakeJournal{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	mux := newTestMux(sampleState(), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateEndpoint(t *testing.T) {
	mux := newTestMux(sampleState(), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var state tasks.SystemState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, tasks.StatusBusy, state.Status)
	assert.Equal(t, 2, state.PendingCount)
	assert.Equal(t, []string{"E2", "E3"}, state.Pending)
}

func TestJournalEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux(sampleState(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	journal := &fakeJournal{outcomes: []tasks.Outcome{{Event: "A", Success: true}, {Event: "B", Success: true}}}
	rec = httptest.NewRecorder()
	newTestMux(sampleState(), journal).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var outcomes []tasks.Outcome
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "A", outcomes[0].Event)

	rec = httptest.NewRecorder()
	newTestMux(sampleState(), journal).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStats(t *testing.T) {
	stats := NewService(sampleState(), nil, func() int { return 3 }).GetStats()

	assert.Equal(t, tasks.StatusBusy, stats.Status)
	assert.Equal(t, 2, stats.PendingTasks)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 1, stats.FailedTasks)
	assert.True(t, stats.WorkerConnected)
	assert.Equal(t, 3, stats.Connections)
}

func TestRecentMessagesNewestFirst(t *testing.T) {
	lines := NewService(sampleState(), nil, nil).GetRecentMessages()
	require.Len(t, lines, 2)
	assert.Equal(t, "second", lines[0].Message)
}
