package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// retryEventType is the dotted event type the retry loops emit; the
// payload distinguishes the llm and tool stages.
const retryEventType = "execution.retry"

// AppendTrace stores one trace event for a run.
func (s *Store) AppendTrace(ctx context.Context, runID string, req controlplane.AppendTraceRequest) error {
	if req.EventType == "" {
		return fmt.Errorf("%w: eventType is required", ErrInvalid)
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO traces
		(run_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`),
		runID, req.EventType, nullString(string(req.Payload)), s.now())
	if err != nil {
		return fmt.Errorf("failed to append trace: %w", err)
	}
	return nil
}

// ListTraces returns a run's events in append order.
func (s *Store) ListTraces(ctx context.Context, runID string) ([]controlplane.TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, run_id, event_type,
		payload, created_at FROM traces WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	var events []controlplane.TraceEvent
	for rows.Next() {
		var ev controlplane.TraceEvent
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.EventType, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to read trace: %w", err)
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// TraceMetrics derives per-run aggregates from the stored events.
func (s *Store) TraceMetrics(ctx context.Context, runID string) (*controlplane.TraceMetrics, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT event_type, created_at
		FROM traces WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read traces: %w", err)
	}
	defer rows.Close()

	metrics := &controlplane.TraceMetrics{
		RunID:       runID,
		EventCounts: map[string]int{},
	}
	for rows.Next() {
		var eventType string
		var at time.Time
		if err := rows.Scan(&eventType, &at); err != nil {
			return nil, fmt.Errorf("failed to read trace: %w", err)
		}
		metrics.TotalEvents++
		metrics.EventCounts[eventType]++
		if metrics.FirstEventAt == nil {
			first := at
			metrics.FirstEventAt = &first
		}
		last := at
		metrics.LastEventAt = &last
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	metrics.RetryCount = metrics.EventCounts[retryEventType]
	return metrics, nil
}

// DeleteTracesBefore removes events older than the cutoff and reports
// how many rows went away.
func (s *Store) DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM traces WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep traces: %w", err)
	}
	return res.RowsAffected()
}
