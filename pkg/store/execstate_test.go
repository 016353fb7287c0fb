package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

func TestExecutionStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saved := controlplane.ExecutionState{
		RunID:       "run-1",
		Phase:       controlplane.PhaseCheckpointed,
		PhaseMarker: controlplane.MarkerExecuting,
		Turn:        3,
		Input:       "add a hello script",
		Stats: controlplane.ExecutionStats{
			ActionCount:       4,
			TotalInputTokens:  1200,
			TotalOutputTokens: 300,
			Retries:           1,
			ReflectionNotes:   []string{"tests still failing"},
		},
		Checkpoint: &controlplane.CheckpointDescriptor{
			At:           time.Now().UTC(),
			Reason:       "turn_complete",
			MessageCount: 9,
		},
		ReplayBoundary: &controlplane.ReplayBoundary{
			Turn:        3,
			Reason:      "turn_complete",
			ContextHash: "abc123",
			CreatedAt:   time.Now().UTC(),
		},
	}
	require.NoError(t, s.SaveExecutionState(ctx, saved))

	got, err := s.GetExecutionState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, saved, *got)

	saved.Turn = 5
	saved.Phase = controlplane.PhaseRunning
	require.NoError(t, s.SaveExecutionState(ctx, saved))

	got, err = s.GetExecutionState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Turn)
	assert.Equal(t, controlplane.PhaseRunning, got.Phase)
}

func TestExecutionStateMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetExecutionState(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecutionStateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExecutionState(ctx, controlplane.ExecutionState{
		RunID: "run-1",
		Phase: controlplane.PhaseRunning,
		Turn:  1,
	}))
	require.NoError(t, s.DeleteExecutionState(ctx, "run-1"))

	_, err := s.GetExecutionState(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent checkpoint stays quiet.
	assert.NoError(t, s.DeleteExecutionState(ctx, "run-1"))
}

func TestExecutionStateRequiresRunID(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveExecutionState(context.Background(), controlplane.ExecutionState{
		Phase: controlplane.PhaseRunning,
	})
	assert.ErrorIs(t, err, ErrInvalid)
}
