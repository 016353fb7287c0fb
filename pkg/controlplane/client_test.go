package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRun(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody CreateRunRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Run{
			RunID:     "run-1",
			ProjectID: gotBody.ProjectID,
			Status:    RunQueued,
			CreatedAt: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	run, err := client.CreateRun(context.Background(), CreateRunRequest{
		ProjectID: "proj",
		Objective: "fix the tests",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/runs", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "fix the tests", gotBody.Objective)
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, RunQueued, run.Status)
}

func TestGetRunNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "run not found")
}

func TestResolveApprovalConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/approvals/appr-1/resolve", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": ResolveContextMismatch})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ResolveApproval(context.Background(), "appr-1", ResolveApprovalRequest{
		Approved:            true,
		ExpectedContextHash: "deadbeef",
	})
	require.Error(t, err)

	reason, ok := ConflictReason(err)
	require.True(t, ok)
	assert.Equal(t, ResolveContextMismatch, reason)
}

func TestListApprovalsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "run-9", r.URL.Query().Get("runId"))
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Approval{{ID: "a1", RunID: "run-9", Status: ApprovalPending}})
	}))
	defer srv.Close()

	approvals, err := NewClient(srv.URL).ListApprovals(context.Background(), ListApprovalsOptions{
		RunID:  "run-9",
		Status: ApprovalPending,
	})
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "a1", approvals[0].ID)
}

func TestGetExecutionStateMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	state, err := NewClient(srv.URL).GetExecutionState(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestExecutionStateRoundTrip(t *testing.T) {
	var stored ExecutionState
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(stored)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	now := time.Now().UTC().Truncate(time.Second)
	state := ExecutionState{
		RunID:       "run-1",
		Phase:       PhaseCheckpointed,
		PhaseMarker: MarkerExecuting,
		Turn:        3,
		Input:       "fix it",
		Stats:       ExecutionStats{ActionCount: 4, Retries: 1},
		ReplayBoundary: &ReplayBoundary{
			Turn:        3,
			Reason:      "tool_result",
			ContextHash: "abc123",
			CreatedAt:   now,
		},
	}
	require.NoError(t, client.SaveExecutionState(context.Background(), state))

	got, err := client.GetExecutionState(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, PhaseCheckpointed, got.Phase)
	require.NotNil(t, got.ReplayBoundary)
	assert.Equal(t, "abc123", got.ReplayBoundary.ContextHash)
	assert.Equal(t, 4, got.Stats.ActionCount)
}

func TestGetCachedPromptMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	entry, err := NewClient(srv.URL).GetCachedPrompt(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSettingsRoundTrip(t *testing.T) {
	stored := DefaultSettings()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/settings", r.URL.Path)
		if r.Method == http.MethodPut {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stored)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	settings, err := client.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "enforce", settings.EgressMode)
	assert.False(t, settings.PromptCacheEnabled)

	settings.PromptCacheEnabled = true
	updated, err := client.PutSettings(context.Background(), *settings)
	require.NoError(t, err)
	assert.True(t, updated.PromptCacheEnabled)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.True(t, RunCancelled.Terminal())
	assert.False(t, RunQueued.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.False(t, RunAwaitingApproval.Terminal())
}

func TestTraceBufferAppendAndFlush(t *testing.T) {
	var mu sync.Mutex
	received := make(map[string]json.RawMessage)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AppendTraceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		received[req.EventType] = req.Payload
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	buffer := NewTraceBuffer(NewClient(srv.URL))
	buffer.Append("run-1", "turn.started", map[string]any{"turn": 1})
	buffer.Append("run-1", "tool.executed", map[string]any{"tool": "read_file"})
	buffer.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.JSONEq(t, `{"turn":1}`, string(received["turn.started"]))
	assert.JSONEq(t, `{"tool":"read_file"}`, string(received["tool.executed"]))
}

func TestTraceBufferNeverSurfacesErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	buffer := NewTraceBuffer(NewClient(srv.URL))
	buffer.Append("run-1", "turn.started", nil)
	buffer.Flush()

	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
