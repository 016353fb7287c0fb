package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// CreateThread inserts a conversation thread for a run.
func (s *Store) CreateThread(ctx context.Context, req controlplane.CreateThreadRequest) (*controlplane.Thread, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("%w: runId is required", ErrInvalid)
	}
	thread := &controlplane.Thread{
		ThreadID:  uuid.New().String(),
		RunID:     req.RunID,
		Title:     req.Title,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO threads
		(thread_id, run_id, title, created_at) VALUES (?, ?, ?, ?)`),
		thread.ThreadID, thread.RunID, nullString(thread.Title), thread.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return thread, nil
}

// ThreadByRun returns the run's thread, newest first when several exist.
func (s *Store) ThreadByRun(ctx context.Context, runID string) (*controlplane.Thread, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT thread_id, run_id, title,
		created_at FROM threads WHERE run_id = ?
		ORDER BY created_at DESC LIMIT 1`), runID)
	var thread controlplane.Thread
	var title sql.NullString
	err := row.Scan(&thread.ThreadID, &thread.RunID, &title, &thread.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("thread: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread: %w", err)
	}
	thread.Title = title.String
	return &thread, nil
}

// AppendMessage stores one conversation message on a thread.
func (s *Store) AppendMessage(ctx context.Context, threadID string, req controlplane.AppendMessageRequest) (*controlplane.ThreadMessage, error) {
	if req.Role == "" {
		return nil, fmt.Errorf("%w: role is required", ErrInvalid)
	}
	msg := &controlplane.ThreadMessage{
		ThreadID:   threadID,
		Role:       req.Role,
		Content:    req.Content,
		ToolCallID: req.ToolCallID,
		TurnNumber: req.TurnNumber,
		CreatedAt:  s.now(),
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO thread_messages
		(thread_id, role, content, tool_call_id, turn_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		msg.ThreadID, msg.Role, msg.Content, nullString(msg.ToolCallID),
		msg.TurnNumber, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	// lib/pq does not implement LastInsertId; the id is informational
	// so a zero is acceptable there.
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	return msg, nil
}

// ListMessages returns a thread's messages in append order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]controlplane.ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, thread_id, role, content,
		tool_call_id, turn_number, created_at FROM thread_messages
		WHERE thread_id = ? ORDER BY id`), threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []controlplane.ThreadMessage
	for rows.Next() {
		var msg controlplane.ThreadMessage
		var toolCallID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content,
			&toolCallID, &msg.TurnNumber, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		msg.ToolCallID = toolCallID.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
