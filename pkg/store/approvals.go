package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// CreateApproval inserts a pending approval.
func (s *Store) CreateApproval(ctx context.Context, req controlplane.CreateApprovalRequest) (*controlplane.Approval, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("%w: runId is required", ErrInvalid)
	}
	switch req.Scope {
	case controlplane.ScopeRun, controlplane.ScopeTool:
	default:
		return nil, fmt.Errorf("%w: invalid approval scope: %s", ErrInvalid, req.Scope)
	}
	now := s.now()
	approval := &controlplane.Approval{
		ID:          uuid.New().String(),
		RunID:       req.RunID,
		Scope:       req.Scope,
		Reason:      req.Reason,
		Status:      controlplane.ApprovalPending,
		ToolName:    req.ToolName,
		ToolInput:   req.ToolInput,
		ContextHash: req.ContextHash,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO approvals
		(id, run_id, scope, reason, status, tool_name, tool_input, context_hash,
		expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		approval.ID, approval.RunID, string(approval.Scope), approval.Reason,
		string(approval.Status), nullString(approval.ToolName),
		nullString(string(approval.ToolInput)), nullString(approval.ContextHash),
		nullTime(approval.ExpiresAt), approval.CreatedAt, approval.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}
	return approval, nil
}

// GetApproval fetches one approval by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*controlplane.Approval, error) {
	row := s.db.QueryRowContext(ctx, s.q(selectApproval+` WHERE id = ?`), id)
	approval, err := scanApproval(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read approval: %w", err)
	}
	return approval, nil
}

// ListApprovals returns approvals, optionally filtered by run and
// status, newest first.
func (s *Store) ListApprovals(ctx context.Context, runID string, status controlplane.ApprovalStatus) ([]controlplane.Approval, error) {
	query := selectApproval
	var args []any
	var where []string
	if runID != "" {
		where = append(where, "run_id = ?")
		args = append(args, runID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []controlplane.Approval
	for rows.Next() {
		approval, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to read approval: %w", err)
		}
		approvals = append(approvals, *approval)
	}
	return approvals, rows.Err()
}

// ResolveApproval applies an operator decision. Non-pending approvals
// return ErrAlreadyResolved, expired ones are auto-rejected and return
// ErrExpired, and a stale expected hash returns ErrContextMismatch.
func (s *Store) ResolveApproval(ctx context.Context, id string, req controlplane.ResolveApprovalRequest) (*controlplane.Approval, error) {
	approval, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if approval.Status != controlplane.ApprovalPending {
		return nil, fmt.Errorf("approval %s: %w", id, ErrAlreadyResolved)
	}
	now := s.now()
	if approval.ExpiresAt != nil && now.After(*approval.ExpiresAt) {
		if err := s.setApprovalStatus(ctx, id, controlplane.ApprovalRejected, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("approval %s: %w", id, ErrExpired)
	}
	if req.ExpectedContextHash != "" && req.ExpectedContextHash != approval.ContextHash {
		return nil, fmt.Errorf("approval %s: %w", id, ErrContextMismatch)
	}

	status := controlplane.ApprovalRejected
	if req.Approved {
		status = controlplane.ApprovalApproved
	}
	if err := s.setApprovalStatus(ctx, id, status, now); err != nil {
		return nil, err
	}
	approval.Status = status
	approval.UpdatedAt = now
	return approval, nil
}

func (s *Store) setApprovalStatus(ctx context.Context, id string, status controlplane.ApprovalStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE approvals SET status = ?,
		updated_at = ? WHERE id = ?`), string(status), now, id)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	return nil
}

const selectApproval = `SELECT id, run_id, scope, reason, status, tool_name,
	tool_input, context_hash, expires_at, created_at, updated_at FROM approvals`

func scanApproval(scan func(...any) error) (*controlplane.Approval, error) {
	var approval controlplane.Approval
	var scope, status string
	var toolName, toolInput, contextHash sql.NullString
	var expiresAt sql.NullTime
	err := scan(&approval.ID, &approval.RunID, &scope, &approval.Reason, &status,
		&toolName, &toolInput, &contextHash, &expiresAt,
		&approval.CreatedAt, &approval.UpdatedAt)
	if err != nil {
		return nil, err
	}
	approval.Scope = controlplane.ApprovalScope(scope)
	approval.Status = controlplane.ApprovalStatus(status)
	approval.ToolName = toolName.String
	if toolInput.Valid {
		approval.ToolInput = []byte(toolInput.String)
	}
	approval.ContextHash = contextHash.String
	approval.ExpiresAt = timePtr(expiresAt)
	return &approval, nil
}
