package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// StateStore is the slice of the control-plane API the checkpoint layer
// uses. *controlplane.Client satisfies it.
type StateStore interface {
	SaveExecutionState(ctx context.Context, state controlplane.ExecutionState) error
	GetExecutionState(ctx context.Context, runID string) (*controlplane.ExecutionState, error)
	DeleteExecutionState(ctx context.Context, runID string) error
}

// Storage persists execution-state snapshots through the control plane.
type Storage struct {
	store StateStore
}

// NewStorage creates checkpoint storage over a control-plane client.
func NewStorage(store StateStore) *Storage {
	return &Storage{store: store}
}

// Save validates and persists a snapshot. A checkpointed snapshot
// without a replay boundary is rejected here, before it can poison a
// later resume.
func (s *Storage) Save(ctx context.Context, state controlplane.ExecutionState) error {
	if state.RunID == "" {
		return fmt.Errorf("runId is required for a checkpoint")
	}
	if state.Phase == controlplane.PhaseCheckpointed && state.ReplayBoundary == nil {
		return fmt.Errorf("refusing to save checkpoint for run %s: %w",
			state.RunID, ErrMissingReplayBoundary)
	}
	if err := s.store.SaveExecutionState(ctx, state); err != nil {
		return fmt.Errorf("failed to save execution state: %w", err)
	}
	slog.Debug("Saved checkpoint",
		"run_id", state.RunID,
		"phase", state.Phase,
		"turn", state.Turn)
	return nil
}

// Load retrieves the persisted snapshot for a run, nil when none exists.
func (s *Storage) Load(ctx context.Context, runID string) (*controlplane.ExecutionState, error) {
	state, err := s.store.GetExecutionState(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution state: %w", err)
	}
	return state, nil
}

// Clear removes the persisted snapshot once a run no longer needs it.
func (s *Storage) Clear(ctx context.Context, runID string) error {
	if err := s.store.DeleteExecutionState(ctx, runID); err != nil {
		return fmt.Errorf("failed to clear execution state: %w", err)
	}
	slog.Debug("Cleared checkpoint", "run_id", runID)
	return nil
}
