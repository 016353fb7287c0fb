package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/config"
	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/observability"
	"github.com/autoagent/autoagent/pkg/store"
)

func newTestServer(t *testing.T, opts ...Option) (*controlplane.Client, *store.Store, *httptest.Server) {
	t.Helper()
	st, err := store.Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := New(config.ControlPlaneConfig{Port: 8080}, st, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return controlplane.NewClient(ts.URL), st, ts
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	run, err := client.CreateRun(ctx, controlplane.CreateRunRequest{
		ProjectID: "proj-1",
		Objective: "add a health endpoint",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, controlplane.RunQueued, run.Status)
	assert.Equal(t, "add a health endpoint", run.Objective)

	fetched, err := client.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, fetched.RunID)

	updated, err := client.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Status: controlplane.RunRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.RunRunning, updated.Status)

	completed, err := client.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Status:  controlplane.RunCompleted,
		Summary: "done",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", completed.Summary)

	_, err = client.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Status: controlplane.RunRunning,
	})
	require.Error(t, err)
	reason, ok := controlplane.ConflictReason(err)
	require.True(t, ok)
	assert.Contains(t, reason, "run is terminal")

	require.NoError(t, client.DeleteRun(ctx, run.RunID))
	_, err = client.GetRun(ctx, run.RunID)
	assert.True(t, controlplane.IsNotFound(err))
}

func TestCreateRunValidation(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	_, err := client.CreateRun(ctx, controlplane.CreateRunRequest{Objective: "no project"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "projectId is required")
}

func TestUnknownRunStatusRejected(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	run, err := client.CreateRun(ctx, controlplane.CreateRunRequest{ProjectID: "p"})
	require.NoError(t, err)

	_, err = client.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{Status: "paused"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestTraceFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	for _, ev := range []controlplane.AppendTraceRequest{
		{EventType: "run.started", Payload: json.RawMessage(`{"turn":0}`)},
		{EventType: "execution.retry", Payload: json.RawMessage(`{"attempt":1}`)},
		{EventType: "execution.retry", Payload: json.RawMessage(`{"attempt":2}`)},
		{EventType: "run.completed"},
	} {
		require.NoError(t, client.AppendTrace(ctx, "run-t", ev))
	}

	events, err := client.ListTraces(ctx, "run-t")
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "run.started", events[0].EventType)
	assert.JSONEq(t, `{"attempt":1}`, string(events[1].Payload))

	metrics, err := client.TraceMetrics(ctx, "run-t")
	require.NoError(t, err)
	assert.Equal(t, 4, metrics.TotalEvents)
	assert.Equal(t, 2, metrics.RetryCount)
	assert.Equal(t, 2, metrics.EventCounts["execution.retry"])
}

func TestApprovalConflictsOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	future := time.Now().UTC().Add(10 * time.Minute)
	approval, err := client.CreateApproval(ctx, controlplane.CreateApprovalRequest{
		RunID:       "run-a",
		Scope:       controlplane.ScopeTool,
		Reason:      "write outside allowlist",
		ToolName:    "write_file",
		ToolInput:   json.RawMessage(`{"path":"main.go"}`),
		ContextHash: "cafe01",
		ExpiresAt:   &future,
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalPending, approval.Status)

	resolved, err := client.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{
		Approved:            true,
		ExpectedContextHash: "cafe01",
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalApproved, resolved.Status)

	_, err = client.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{Approved: false})
	reason, ok := controlplane.ConflictReason(err)
	require.True(t, ok)
	assert.Equal(t, controlplane.ResolveAlreadyResolved, reason)

	past := time.Now().UTC().Add(-time.Minute)
	stale, err := client.CreateApproval(ctx, controlplane.CreateApprovalRequest{
		RunID:     "run-a",
		Scope:     controlplane.ScopeTool,
		Reason:    "expired gate",
		ToolName:  "run_command",
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	_, err = client.ResolveApproval(ctx, stale.ID, controlplane.ResolveApprovalRequest{Approved: true})
	reason, ok = controlplane.ConflictReason(err)
	require.True(t, ok)
	assert.Equal(t, controlplane.ResolveExpired, reason)

	rejected, err := client.GetApproval(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalRejected, rejected.Status)

	mismatched, err := client.CreateApproval(ctx, controlplane.CreateApprovalRequest{
		RunID:       "run-a",
		Scope:       controlplane.ScopeTool,
		Reason:      "hash check",
		ToolName:    "edit_file",
		ContextHash: "cafe02",
		ExpiresAt:   &future,
	})
	require.NoError(t, err)

	_, err = client.ResolveApproval(ctx, mismatched.ID, controlplane.ResolveApprovalRequest{
		Approved:            true,
		ExpectedContextHash: "wrong",
	})
	reason, ok = controlplane.ConflictReason(err)
	require.True(t, ok)
	assert.Equal(t, controlplane.ResolveContextMismatch, reason)

	stillPending, err := client.GetApproval(ctx, mismatched.ID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalPending, stillPending.Status)

	pending, err := client.ListApprovals(ctx, controlplane.ListApprovalsOptions{
		RunID:  "run-a",
		Status: controlplane.ApprovalPending,
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, mismatched.ID, pending[0].ID)
}

func TestTerminalRunCancelsPrompts(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	run, err := client.CreateRun(ctx, controlplane.CreateRunRequest{ProjectID: "p"})
	require.NoError(t, err)

	prompt, err := client.CreatePrompt(ctx, controlplane.CreatePromptRequest{
		RunID:      run.RunID,
		TurnNumber: 2,
		PromptText: "Which database should the migration target?",
		ExpiresAt:  time.Now().UTC().Add(15 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.PromptPending, prompt.Status)

	_, err = client.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Status: controlplane.RunFailed,
	})
	require.NoError(t, err)

	cancelled, err := client.GetPrompt(ctx, prompt.PromptID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.PromptCancelled, cancelled.Status)
}

func TestExecutionStateOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, ts := newTestServer(t)

	state, err := client.GetExecutionState(ctx, "run-x")
	require.NoError(t, err)
	assert.Nil(t, state)

	saved := controlplane.ExecutionState{
		RunID:       "run-x",
		Phase:       controlplane.PhaseCheckpointed,
		PhaseMarker: controlplane.MarkerExecuting,
		Turn:        4,
		Input:       "refactor the parser",
		Stats:       controlplane.ExecutionStats{ActionCount: 9},
		ReplayBoundary: &controlplane.ReplayBoundary{
			Turn:        4,
			Reason:      "tool_result",
			ContextHash: "feed01",
			CreatedAt:   time.Now().UTC().Truncate(time.Second),
		},
	}
	require.NoError(t, client.SaveExecutionState(ctx, saved))

	got, err := client.GetExecutionState(ctx, "run-x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Turn)
	require.NotNil(t, got.ReplayBoundary)
	assert.Equal(t, "feed01", got.ReplayBoundary.ContextHash)

	// A body whose runId disagrees with the path must be refused.
	mismatch, _ := json.Marshal(controlplane.ExecutionState{RunID: "other", Phase: controlplane.PhaseRunning})
	resp, err := http.Post(ts.URL+"/api/execution-state/run-x", "application/json", bytes.NewReader(mismatch))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, client.DeleteExecutionState(ctx, "run-x"))
	state, err = client.GetExecutionState(ctx, "run-x")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestThreadsAndPromptsOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	thread, err := client.CreateThread(ctx, controlplane.CreateThreadRequest{
		RunID: "run-th",
		Title: "parser fixes",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, thread.ThreadID)

	byRun, err := client.ThreadByRun(ctx, "run-th")
	require.NoError(t, err)
	require.NotNil(t, byRun)
	assert.Equal(t, thread.ThreadID, byRun.ThreadID)

	none, err := client.ThreadByRun(ctx, "run-none")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = client.AppendThreadMessage(ctx, thread.ThreadID, controlplane.AppendMessageRequest{
		Role: "user", Content: "fix the parser", TurnNumber: 0,
	})
	require.NoError(t, err)
	_, err = client.AppendThreadMessage(ctx, thread.ThreadID, controlplane.AppendMessageRequest{
		Role: "assistant", Content: "Reading the failing test first.", TurnNumber: 1,
	})
	require.NoError(t, err)

	messages, err := client.ListThreadMessages(ctx, thread.ThreadID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)

	prompt, err := client.CreatePrompt(ctx, controlplane.CreatePromptRequest{
		RunID:      "run-th",
		ThreadID:   thread.ThreadID,
		TurnNumber: 1,
		PromptText: "Keep the legacy flag?",
		ExpiresAt:  time.Now().UTC().Add(15 * time.Minute),
	})
	require.NoError(t, err)

	answered, err := client.AnswerPrompt(ctx, prompt.PromptID, controlplane.AnswerPromptRequest{
		ResponseText: "yes, keep it",
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.PromptAnswered, answered.Status)
	assert.Equal(t, "yes, keep it", answered.ResponseText)

	_, err = client.AnswerPrompt(ctx, prompt.PromptID, controlplane.AnswerPromptRequest{ResponseText: "no"})
	reason, ok := controlplane.ConflictReason(err)
	require.True(t, ok)
	assert.Equal(t, controlplane.ResolveAlreadyResolved, reason)

	prompts, err := client.PromptsByRun(ctx, "run-th")
	require.NoError(t, err)
	require.Len(t, prompts, 1)
}

func TestProvidersAndSettingsOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	created, err := client.CreateProvider(ctx, controlplane.Provider{
		Kind:      "openai",
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o-mini",
		APIKeyRef: "OPENAI_API_KEY",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = client.CreateProvider(ctx, controlplane.Provider{Kind: "gemini", Model: "g"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	updated, err := client.UpdateProvider(ctx, created.ID, controlplane.Provider{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", updated.Model)
	assert.Equal(t, "openai", updated.Kind)

	providers, err := client.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 1)

	settings, err := client.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "enforce", settings.EgressMode)
	assert.False(t, settings.PromptCacheEnabled)

	settings.PromptCacheEnabled = true
	settings.AllowedHosts = []string{"api.github.com"}
	saved, err := client.PutSettings(ctx, *settings)
	require.NoError(t, err)
	assert.True(t, saved.PromptCacheEnabled)

	reloaded, err := client.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api.github.com"}, reloaded.AllowedHosts)
}

func TestArtifactsPerformanceAndPromotionsOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	artifact, err := client.CreateArtifact(ctx, controlplane.VerificationArtifact{
		RunID:              "run-v",
		VerificationType:   "command",
		ArtifactType:       "stdout",
		ArtifactContent:    "ok\n",
		VerificationResult: controlplane.VerificationPass,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.ArtifactID)

	artifacts, err := client.ArtifactsByRun(ctx, "run-v")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	require.NoError(t, client.RecordModelPerformance(ctx, controlplane.ModelPerformance{
		ProviderID:     "prov-1",
		Model:          "gpt-4o-mini",
		RoutingMode:    "default",
		Success:        true,
		LatencyMs:      840,
		AggregateScore: 0.91,
	}))

	samples, err := client.ModelPerformanceSamples(ctx, "prov-1", "default")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.91, samples[0].AggregateScore, 1e-9)

	eval, err := client.CreatePromotionEvaluation(ctx, controlplane.PromotionEvaluation{
		RunID:     "run-v",
		Criterion: "aggregate_score",
		Threshold: 0.8,
		Score:     0.91,
		Passed:    true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, eval.EvaluationID)

	evals, err := client.ListPromotionEvaluations(ctx)
	require.NoError(t, err)
	require.Len(t, evals, 1)
}

func TestPromptCacheOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestServer(t)

	miss, err := client.GetCachedPrompt(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, client.PutCachedPrompt(ctx, controlplane.CachedPrompt{
		Key:       "deadbeef",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Response:  json.RawMessage(`{"content":"hello"}`),
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}))

	hit, err := client.GetCachedPrompt(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.JSONEq(t, `{"content":"hello"}`, string(hit.Response))
}

func TestMetricsEndpointMounted(t *testing.T) {
	obs := observability.NewManager(config.ObservabilityConfig{
		MetricsEnabled: config.BoolPtr(true),
	})
	require.NoError(t, obs.Initialize(context.Background()))
	defer observability.SetGlobalRecorder(observability.NoopRecorder{})

	_, _, ts := newTestServer(t, WithObservability(obs))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointAbsentWithoutObservability(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
