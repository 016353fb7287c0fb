package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// SaveExecutionState upserts a run's checkpoint document.
func (s *Store) SaveExecutionState(ctx context.Context, state controlplane.ExecutionState) error {
	if state.RunID == "" {
		return fmt.Errorf("%w: runId is required", ErrInvalid)
	}
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode execution state: %w", err)
	}

	now := s.now()
	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO execution_state (run_id, phase, turn, state, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE phase = VALUES(phase), turn = VALUES(turn),
			state = VALUES(state), updated_at = VALUES(updated_at)`
	default:
		query = `INSERT INTO execution_state (run_id, phase, turn, state, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (run_id) DO UPDATE SET phase = excluded.phase,
			turn = excluded.turn, state = excluded.state, updated_at = excluded.updated_at`
	}
	_, err = s.db.ExecContext(ctx, s.q(query),
		state.RunID, state.Phase, state.Turn, string(doc), now)
	if err != nil {
		return fmt.Errorf("failed to save execution state: %w", err)
	}
	return nil
}

// GetExecutionState returns the saved checkpoint, or ErrNotFound when
// the run has none.
func (s *Store) GetExecutionState(ctx context.Context, runID string) (*controlplane.ExecutionState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT state FROM execution_state
		WHERE run_id = ?`), runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution state: %w", err)
	}
	var state controlplane.ExecutionState
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return nil, fmt.Errorf("failed to decode execution state: %w", err)
	}
	return &state, nil
}

// DeleteExecutionState removes a run's checkpoint. Deleting a missing
// checkpoint is not an error.
func (s *Store) DeleteExecutionState(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM execution_state
		WHERE run_id = ?`), runID)
	if err != nil {
		return fmt.Errorf("failed to delete execution state: %w", err)
	}
	return nil
}
