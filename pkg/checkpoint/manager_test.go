package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// memStore keeps execution state in a map, mirroring the control-plane
// contract of returning nil for runs without a snapshot.
type memStore struct {
	mu     sync.Mutex
	states map[string]controlplane.ExecutionState
}

func newMemStore() *memStore {
	return &memStore{states: map[string]controlplane.ExecutionState{}}
}

func (f *memStore) SaveExecutionState(_ context.Context, state controlplane.ExecutionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[state.RunID] = state
	return nil
}

func (f *memStore) GetExecutionState(_ context.Context, runID string) (*controlplane.ExecutionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[runID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (f *memStore) DeleteExecutionState(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, runID)
	return nil
}

func TestManager_CheckpointTurnRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemStore())

	stats := controlplane.ExecutionStats{ActionCount: 2, Retries: 1}
	require.NoError(t, m.CheckpointTurn(ctx, "run-7", "fix the bug", 3, stats, 9))

	state, err := m.LoadForResume(ctx, "run-7")
	require.NoError(t, err)
	assert.Equal(t, 3, state.Turn)
	assert.Equal(t, "fix the bug", state.Input)
	assert.Equal(t, stats, state.Stats)
	require.NotNil(t, state.ReplayBoundary)
	assert.Equal(t, ContextHash("run-7", 3, ReasonToolResult, 9), state.ReplayBoundary.ContextHash)
}

func TestManager_LoadForResumeWithoutState(t *testing.T) {
	m := NewManager(newMemStore())

	_, err := m.LoadForResume(context.Background(), "run-missing")
	assert.ErrorIs(t, err, ErrNoState)

	_, err = m.LoadForRetry(context.Background(), "run-missing")
	assert.ErrorIs(t, err, ErrNoState)
}

func TestManager_AbortedRunBlocksResumeAndRetry(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemStore())

	require.NoError(t, m.CheckpointTurn(ctx, "run-7", "in", 2, controlplane.ExecutionStats{}, 6))

	last, err := m.Load(ctx, "run-7")
	require.NoError(t, err)
	aborted := FromState(*last).
		WithError(errors.New("aborted by operator")).
		WithPhase(controlplane.PhaseAborted).
		Build()
	require.NoError(t, m.Save(ctx, aborted))

	_, err = m.LoadForResume(ctx, "run-7")
	assert.ErrorIs(t, err, ErrRunAborted)
	_, err = m.LoadForRetry(ctx, "run-7")
	assert.ErrorIs(t, err, ErrRunAborted)
}

func TestManager_FailedRunRetriesWithOriginalInput(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemStore())

	require.NoError(t, m.CheckpointTurn(ctx, "run-7", "original objective", 4,
		controlplane.ExecutionStats{ActionCount: 5}, 12))

	last, err := m.Load(ctx, "run-7")
	require.NoError(t, err)
	failed := FromState(*last).WithError(errors.New("provider down")).Build()
	require.NoError(t, m.Save(ctx, failed))

	state, err := m.LoadForRetry(ctx, "run-7")
	require.NoError(t, err)
	assert.Equal(t, "original objective", state.Input)

	// The checkpoint survived the failure write, so resume works too.
	resumed, err := m.LoadForResume(ctx, "run-7")
	require.NoError(t, err)
	assert.Equal(t, 4, resumed.Turn)
}

func TestManager_ResumeRefusedWithoutBoundary(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store)

	// Inject a corrupt snapshot directly, Save would refuse to write it.
	state := NewState("run-7", "in").WithTurn(2).WithCheckpoint(ReasonToolResult, 6).Build()
	state.ReplayBoundary = nil
	store.states["run-7"] = state

	_, err := m.LoadForResume(ctx, "run-7")
	assert.ErrorIs(t, err, ErrMissingReplayBoundary)
}

func TestManager_SaveRefusesCheckpointedWithoutBoundary(t *testing.T) {
	m := NewManager(newMemStore())

	state := NewState("run-7", "in").WithTurn(2).WithCheckpoint(ReasonToolResult, 6).Build()
	state.ReplayBoundary = nil

	err := m.Save(context.Background(), state)
	assert.ErrorIs(t, err, ErrMissingReplayBoundary)
}

func TestManager_ClearRemovesState(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemStore())

	require.NoError(t, m.CheckpointTurn(ctx, "run-7", "in", 1, controlplane.ExecutionStats{}, 3))
	require.NoError(t, m.Clear(ctx, "run-7"))

	state, err := m.Load(ctx, "run-7")
	require.NoError(t, err)
	assert.Nil(t, state)
}
