package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// CreatePrompt inserts a pending ask_user prompt.
func (s *Store) CreatePrompt(ctx context.Context, req controlplane.CreatePromptRequest) (*controlplane.UserPrompt, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("%w: runId is required", ErrInvalid)
	}
	if req.PromptText == "" {
		return nil, fmt.Errorf("%w: promptText is required", ErrInvalid)
	}
	if req.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: expiresAt is required", ErrInvalid)
	}
	prompt := &controlplane.UserPrompt{
		PromptID:   uuid.New().String(),
		RunID:      req.RunID,
		ThreadID:   req.ThreadID,
		TurnNumber: req.TurnNumber,
		PromptText: req.PromptText,
		Status:     controlplane.PromptPending,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  s.now(),
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_prompts
		(prompt_id, run_id, thread_id, turn_number, prompt_text, status,
		response_text, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		prompt.PromptID, prompt.RunID, nullString(prompt.ThreadID),
		prompt.TurnNumber, prompt.PromptText, string(prompt.Status),
		nullString(prompt.ResponseText), prompt.ExpiresAt, prompt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}
	return prompt, nil
}

// GetPrompt fetches one prompt. A pending prompt past its deadline is
// flipped to expired on read, so pollers observe expiry without a
// background job.
func (s *Store) GetPrompt(ctx context.Context, promptID string) (*controlplane.UserPrompt, error) {
	prompt, err := s.readPrompt(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if prompt.Status == controlplane.PromptPending && s.now().After(prompt.ExpiresAt) {
		if err := s.setPromptStatus(ctx, promptID, controlplane.PromptExpired, ""); err != nil {
			return nil, err
		}
		prompt.Status = controlplane.PromptExpired
	}
	return prompt, nil
}

// AnswerPrompt records an operator answer on a pending prompt.
func (s *Store) AnswerPrompt(ctx context.Context, promptID string, req controlplane.AnswerPromptRequest) (*controlplane.UserPrompt, error) {
	prompt, err := s.readPrompt(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if prompt.Status == controlplane.PromptPending && s.now().After(prompt.ExpiresAt) {
		if err := s.setPromptStatus(ctx, promptID, controlplane.PromptExpired, ""); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("prompt %s: %w", promptID, ErrExpired)
	}
	if prompt.Status != controlplane.PromptPending {
		return nil, fmt.Errorf("prompt %s: %w", promptID, ErrAlreadyResolved)
	}
	if err := s.setPromptStatus(ctx, promptID, controlplane.PromptAnswered, req.ResponseText); err != nil {
		return nil, err
	}
	prompt.Status = controlplane.PromptAnswered
	prompt.ResponseText = req.ResponseText
	return prompt, nil
}

// PromptsByRun returns a run's prompts, newest first.
func (s *Store) PromptsByRun(ctx context.Context, runID string) ([]controlplane.UserPrompt, error) {
	rows, err := s.db.QueryContext(ctx, s.q(selectPrompt+` WHERE run_id = ?
		ORDER BY created_at DESC, prompt_id`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []controlplane.UserPrompt
	for rows.Next() {
		prompt, err := scanPrompt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt: %w", err)
		}
		prompts = append(prompts, *prompt)
	}
	return prompts, rows.Err()
}

// CancelPendingPrompts cancels every pending prompt of a run. Called
// when the run reaches a terminal status.
func (s *Store) CancelPendingPrompts(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE user_prompts SET status = ?
		WHERE run_id = ? AND status = ?`),
		string(controlplane.PromptCancelled), runID, string(controlplane.PromptPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel prompts: %w", err)
	}
	return res.RowsAffected()
}

// DeletePromptsBefore removes resolved prompts older than the cutoff.
// Pending prompts are kept regardless of age.
func (s *Store) DeletePromptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM user_prompts
		WHERE created_at < ? AND status <> ?`),
		cutoff, string(controlplane.PromptPending))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep prompts: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) readPrompt(ctx context.Context, promptID string) (*controlplane.UserPrompt, error) {
	row := s.db.QueryRowContext(ctx, s.q(selectPrompt+` WHERE prompt_id = ?`), promptID)
	prompt, err := scanPrompt(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("prompt: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt: %w", err)
	}
	return prompt, nil
}

func (s *Store) setPromptStatus(ctx context.Context, promptID string, status controlplane.PromptStatus, responseText string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE user_prompts SET status = ?,
		response_text = ? WHERE prompt_id = ?`),
		string(status), nullString(responseText), promptID)
	if err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	return nil
}

const selectPrompt = `SELECT prompt_id, run_id, thread_id, turn_number,
	prompt_text, status, response_text, expires_at, created_at FROM user_prompts`

func scanPrompt(scan func(...any) error) (*controlplane.UserPrompt, error) {
	var prompt controlplane.UserPrompt
	var threadID, responseText sql.NullString
	var status string
	err := scan(&prompt.PromptID, &prompt.RunID, &threadID, &prompt.TurnNumber,
		&prompt.PromptText, &status, &responseText, &prompt.ExpiresAt, &prompt.CreatedAt)
	if err != nil {
		return nil, err
	}
	prompt.ThreadID = threadID.String
	prompt.Status = controlplane.PromptStatus(status)
	prompt.ResponseText = responseText.String
	return &prompt, nil
}
