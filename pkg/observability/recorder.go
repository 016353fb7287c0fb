package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder receives measurements from the agent loop and the safety
// pipeline. Implementations must be safe for concurrent use.
type Recorder interface {
	// RecordRun records a finished run with its final status.
	RecordRun(ctx context.Context, status string, duration time.Duration)

	// RecordToolCall records one tool dispatch. A non-nil err also
	// increments the error counter.
	RecordToolCall(ctx context.Context, tool string, err error)

	// RecordLLMRequest records one provider round trip with its token usage.
	RecordLLMRequest(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error)

	// RecordSafetyViolation records a rejection by one of the safety stages.
	RecordSafetyViolation(ctx context.Context, stage string)
}

// prometheusRecorder implements Recorder on top of the otel instruments
// created by initRecorder.
type prometheusRecorder struct {
	runDuration      metric.Float64Histogram
	runsTotal        metric.Int64Counter
	toolCalls        metric.Int64Counter
	toolErrors       metric.Int64Counter
	llmDuration      metric.Float64Histogram
	llmInputTokens   metric.Int64Counter
	llmOutputTokens  metric.Int64Counter
	safetyViolations metric.Int64Counter
}

func (r *prometheusRecorder) RecordRun(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttrRunStatus, status))
	if r.runDuration != nil {
		r.runDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if r.runsTotal != nil {
		r.runsTotal.Add(ctx, 1, attrs)
	}
}

func (r *prometheusRecorder) RecordToolCall(ctx context.Context, tool string, err error) {
	attrs := metric.WithAttributes(attribute.String(AttrTool, tool))
	if r.toolCalls != nil {
		r.toolCalls.Add(ctx, 1, attrs)
	}
	if err != nil && r.toolErrors != nil {
		r.toolErrors.Add(ctx, 1, attrs)
	}
}

func (r *prometheusRecorder) RecordLLMRequest(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrModel, model),
		attribute.Bool(AttrError, err != nil),
	)
	if r.llmDuration != nil {
		r.llmDuration.Record(ctx, duration.Seconds(), attrs)
	}
	tokenAttrs := metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrModel, model),
	)
	if inputTokens > 0 && r.llmInputTokens != nil {
		r.llmInputTokens.Add(ctx, int64(inputTokens), tokenAttrs)
	}
	if outputTokens > 0 && r.llmOutputTokens != nil {
		r.llmOutputTokens.Add(ctx, int64(outputTokens), tokenAttrs)
	}
}

func (r *prometheusRecorder) RecordSafetyViolation(ctx context.Context, stage string) {
	if r.safetyViolations != nil {
		r.safetyViolations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStage, stage)))
	}
}

var (
	globalRecorderMu sync.RWMutex
	globalRecorder   Recorder = NoopRecorder{}
)

// SetGlobalRecorder installs the process-wide recorder. Call once during
// startup after the manager has initialized.
func SetGlobalRecorder(r Recorder) {
	globalRecorderMu.Lock()
	defer globalRecorderMu.Unlock()
	if r == nil {
		r = NoopRecorder{}
	}
	globalRecorder = r
}

// GetGlobalRecorder returns the process-wide recorder. Never nil.
func GetGlobalRecorder() Recorder {
	globalRecorderMu.RLock()
	defer globalRecorderMu.RUnlock()
	return globalRecorder
}
