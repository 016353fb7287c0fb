package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// initRecorder builds the meter pipeline into the given registry and
// returns a recorder over the instrument set.
func initRecorder(registry *prometheus.Registry) (*prometheusRecorder, *sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	meter := meterProvider.Meter("autoagent")

	runDuration, err := meter.Float64Histogram(
		"autoagent_run_duration_seconds",
		metric.WithDescription("Run duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	runsTotal, err := meter.Int64Counter(
		"autoagent_runs_total",
		metric.WithDescription("Total runs by final status"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"autoagent_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"autoagent_tool_errors_total",
		metric.WithDescription("Total failed tool calls"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"autoagent_llm_request_duration_seconds",
		metric.WithDescription("Provider request duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"autoagent_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to providers"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"autoagent_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from providers"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	safetyViolations, err := meter.Int64Counter(
		"autoagent_safety_violations_total",
		metric.WithDescription("Total safety pipeline violations"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create safety violations counter: %w", err)
	}

	return &prometheusRecorder{
		runDuration:      runDuration,
		runsTotal:        runsTotal,
		toolCalls:        toolCalls,
		toolErrors:       toolErrors,
		llmDuration:      llmDuration,
		llmInputTokens:   llmInputTokens,
		llmOutputTokens:  llmOutputTokens,
		safetyViolations: safetyViolations,
	}, meterProvider, nil
}
