package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// ErrRunTerminal is returned when a status change targets a run whose
// status can no longer change.
var ErrRunTerminal = errors.New("run is terminal")

// CreateRun inserts a new run in status queued.
func (s *Store) CreateRun(ctx context.Context, req controlplane.CreateRunRequest) (*controlplane.Run, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: projectId is required", ErrInvalid)
	}
	now := s.now()
	run := &controlplane.Run{
		RunID:     uuid.New().String(),
		ProjectID: req.ProjectID,
		Objective: req.Objective,
		Status:    controlplane.RunQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO runs
		(run_id, project_id, objective, status, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		run.RunID, run.ProjectID, run.Objective, string(run.Status), run.Summary,
		run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*controlplane.Run, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT run_id, project_id, objective,
		status, summary, created_at, updated_at FROM runs WHERE run_id = ?`), runID)
	return scanRun(row)
}

// UpdateRun applies a partial update. Empty fields are left unchanged.
// Status changes on terminal runs are refused.
func (s *Store) UpdateRun(ctx context.Context, runID string, req controlplane.UpdateRunRequest) (*controlplane.Run, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown run status %q", ErrInvalid, req.Status)
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Status != "" && req.Status != run.Status {
		if run.Status.Terminal() {
			return nil, fmt.Errorf("cannot change status of run %s: %w", runID, ErrRunTerminal)
		}
		run.Status = req.Status
	}
	if req.Summary != "" {
		run.Summary = req.Summary
	}
	run.UpdatedAt = s.now()
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE runs SET status = ?, summary = ?,
		updated_at = ? WHERE run_id = ?`),
		string(run.Status), run.Summary, run.UpdatedAt, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	return run, nil
}

// DeleteRun removes a run and its trace events.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM runs WHERE run_id = ?`), runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM traces WHERE run_id = ?`), runID); err != nil {
		return fmt.Errorf("failed to delete run traces: %w", err)
	}
	return nil
}

func scanRun(row *sql.Row) (*controlplane.Run, error) {
	var run controlplane.Run
	var status string
	err := row.Scan(&run.RunID, &run.ProjectID, &run.Objective, &status,
		&run.Summary, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	run.Status = controlplane.RunStatus(status)
	return &run, nil
}
