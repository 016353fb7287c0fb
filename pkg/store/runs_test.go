package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, controlplane.CreateRunRequest{
		ProjectID: "proj-1",
		Objective: "add a hello script",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, controlplane.RunQueued, run.Status)
	assert.Equal(t, "add a hello script", run.Objective)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, controlplane.RunQueued, got.Status)

	updated, err := s.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Status: controlplane.RunRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.RunRunning, updated.Status)
	assert.Equal(t, "add a hello script", updated.Objective)

	updated, err = s.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Summary: "created hello.py",
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.RunRunning, updated.Status)
	assert.Equal(t, "created hello.py", updated.Summary)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRunTerminalStatusFrozen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, controlplane.CreateRunRequest{ProjectID: "p"})
	require.NoError(t, err)
	_, err = s.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Status: controlplane.RunCompleted,
	})
	require.NoError(t, err)

	_, err = s.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Status: controlplane.RunRunning,
	})
	assert.ErrorIs(t, err, ErrRunTerminal)

	// Summary updates stay allowed on terminal runs.
	updated, err := s.UpdateRun(ctx, run.RunID, controlplane.UpdateRunRequest{
		Summary: "wrapped up",
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.RunCompleted, updated.Status)
	assert.Equal(t, "wrapped up", updated.Summary)
}

func TestDeleteRunCascadesTraces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, controlplane.CreateRunRequest{ProjectID: "p"})
	require.NoError(t, err)
	require.NoError(t, s.AppendTrace(ctx, run.RunID, controlplane.AppendTraceRequest{
		EventType: "run.started",
	}))

	require.NoError(t, s.DeleteRun(ctx, run.RunID))

	_, err = s.GetRun(ctx, run.RunID)
	assert.ErrorIs(t, err, ErrNotFound)
	events, err := s.ListTraces(ctx, run.RunID)
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.ErrorIs(t, s.DeleteRun(ctx, run.RunID), ErrNotFound)
}
