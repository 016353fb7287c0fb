package checkpoint

import (
	"context"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// Manager coordinates checkpoint writes and resume decisions for the
// orchestrator.
type Manager struct {
	storage *Storage
}

// NewManager creates a checkpoint Manager over a control-plane client.
func NewManager(store StateStore) *Manager {
	return &Manager{storage: NewStorage(store)}
}

// CheckpointTurn persists the end-of-turn snapshot that makes the run
// resumable.
func (m *Manager) CheckpointTurn(ctx context.Context, runID, input string, turn int, stats controlplane.ExecutionStats, messageCount int) error {
	state := NewState(runID, input).
		WithTurn(turn).
		WithStats(stats).
		WithCheckpoint(ReasonToolResult, messageCount).
		Build()
	return m.storage.Save(ctx, state)
}

// Save persists an arbitrary snapshot, used for the running, failed and
// aborted phases the turn checkpoint does not cover.
func (m *Manager) Save(ctx context.Context, state controlplane.ExecutionState) error {
	return m.storage.Save(ctx, state)
}

// Load retrieves the run's snapshot, nil when none exists.
func (m *Manager) Load(ctx context.Context, runID string) (*controlplane.ExecutionState, error) {
	return m.storage.Load(ctx, runID)
}

// Clear removes the run's snapshot after successful completion.
func (m *Manager) Clear(ctx context.Context, runID string) error {
	return m.storage.Clear(ctx, runID)
}

// LoadForResume loads the run's snapshot and verifies it supports a
// deterministic resume. The returned state carries the turn and stats
// the continuation starts from.
func (m *Manager) LoadForResume(ctx context.Context, runID string) (*controlplane.ExecutionState, error) {
	state, err := m.storage.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := CanResume(state); err != nil {
		return nil, err
	}
	return state, nil
}

// LoadForRetry loads the run's snapshot for a fresh re-entry. Only the
// original input survives a retry; turn count and stats start over.
func (m *Manager) LoadForRetry(ctx context.Context, runID string) (*controlplane.ExecutionState, error) {
	state, err := m.storage.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := CanRetry(state); err != nil {
		return nil, err
	}
	return state, nil
}
