package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

func TestModelPerformanceSamples(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, success := range []bool{true, true, false} {
		require.NoError(t, s.RecordModelPerformance(ctx, controlplane.ModelPerformance{
			ProviderID:     "openai-main",
			Model:          "gpt-4o",
			RoutingMode:    "default",
			Success:        success,
			LatencyMs:      int64(800 + i*100),
			CostUSD:        0.01,
			AggregateScore: 0.8,
		}))
	}
	require.NoError(t, s.RecordModelPerformance(ctx, controlplane.ModelPerformance{
		ProviderID:  "openai-main",
		Model:       "gpt-4o",
		RoutingMode: "fast",
		Success:     true,
	}))

	samples, err := s.ModelPerformanceSamples(ctx, "openai-main", "default")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	// Newest first.
	assert.False(t, samples[0].Success)
	assert.Equal(t, int64(1000), samples[0].LatencyMs)
	assert.True(t, samples[2].Success)

	all, err := s.ModelPerformanceSamples(ctx, "openai-main", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.ModelPerformanceSamples(ctx, "anthropic-main", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordModelPerformanceValidation(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordModelPerformance(context.Background(), controlplane.ModelPerformance{
		Model: "gpt-4o",
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPromotionEvaluations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePromotionEvaluation(ctx, controlplane.PromotionEvaluation{
		RunID:     "run-1",
		Criterion: "aggregate_score",
		Threshold: 0.7,
		Score:     0.83,
		Passed:    true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.EvaluationID)

	_, err = s.CreatePromotionEvaluation(ctx, controlplane.PromotionEvaluation{
		RunID:     "run-2",
		Criterion: "aggregate_score",
		Threshold: 0.7,
		Score:     0.4,
		Passed:    false,
	})
	require.NoError(t, err)

	evals, err := s.ListPromotionEvaluations(ctx)
	require.NoError(t, err)
	require.Len(t, evals, 2)
	for _, eval := range evals {
		assert.Equal(t, "aggregate_score", eval.Criterion)
	}
}
