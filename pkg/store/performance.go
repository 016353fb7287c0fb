package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// maxPerformanceSamples bounds the routing selector's working set.
const maxPerformanceSamples = 100

// RecordModelPerformance stores one routing sample.
func (s *Store) RecordModelPerformance(ctx context.Context, sample controlplane.ModelPerformance) error {
	if sample.ProviderID == "" {
		return fmt.Errorf("%w: providerId is required", ErrInvalid)
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO model_performance
		(provider_id, model, routing_mode, success, latency_ms, cost_usd,
		aggregate_score, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		sample.ProviderID, sample.Model, sample.RoutingMode, sample.Success,
		sample.LatencyMs, sample.CostUSD, sample.AggregateScore, sample.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record model performance: %w", err)
	}
	return nil
}

// ModelPerformanceSamples returns the newest samples for a provider and
// routing mode.
func (s *Store) ModelPerformanceSamples(ctx context.Context, providerID, routingMode string) ([]controlplane.ModelPerformance, error) {
	query := `SELECT id, provider_id, model, routing_mode, success, latency_ms,
		cost_usd, aggregate_score, created_at FROM model_performance
		WHERE provider_id = ?`
	args := []any{providerID}
	if routingMode != "" {
		query += ` AND routing_mode = ?`
		args = append(args, routingMode)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, maxPerformanceSamples)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list model performance: %w", err)
	}
	defer rows.Close()

	var samples []controlplane.ModelPerformance
	for rows.Next() {
		var sample controlplane.ModelPerformance
		if err := rows.Scan(&sample.ID, &sample.ProviderID, &sample.Model,
			&sample.RoutingMode, &sample.Success, &sample.LatencyMs,
			&sample.CostUSD, &sample.AggregateScore, &sample.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read model performance: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// CreatePromotionEvaluation stores one per-run promotion verdict.
func (s *Store) CreatePromotionEvaluation(ctx context.Context, eval controlplane.PromotionEvaluation) (*controlplane.PromotionEvaluation, error) {
	if eval.RunID == "" {
		return nil, fmt.Errorf("%w: runId is required", ErrInvalid)
	}
	if eval.EvaluationID == "" {
		eval.EvaluationID = uuid.New().String()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO promotion_evaluations
		(evaluation_id, run_id, criterion, threshold, score, passed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		eval.EvaluationID, eval.RunID, eval.Criterion, eval.Threshold,
		eval.Score, eval.Passed, eval.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create promotion evaluation: %w", err)
	}
	return &eval, nil
}

// ListPromotionEvaluations returns all verdicts, newest first.
func (s *Store) ListPromotionEvaluations(ctx context.Context) ([]controlplane.PromotionEvaluation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT evaluation_id, run_id,
		criterion, threshold, score, passed, created_at
		FROM promotion_evaluations ORDER BY created_at DESC, evaluation_id`))
	if err != nil {
		return nil, fmt.Errorf("failed to list promotion evaluations: %w", err)
	}
	defer rows.Close()

	var evals []controlplane.PromotionEvaluation
	for rows.Next() {
		var eval controlplane.PromotionEvaluation
		if err := rows.Scan(&eval.EvaluationID, &eval.RunID, &eval.Criterion,
			&eval.Threshold, &eval.Score, &eval.Passed, &eval.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read promotion evaluation: %w", err)
		}
		evals = append(evals, eval)
	}
	return evals, rows.Err()
}
