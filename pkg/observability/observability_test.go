package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/autoagent/autoagent/pkg/config"
)

func TestManagerExposesMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewManager(config.ObservabilityConfig{
		MetricsEnabled: config.BoolPtr(true),
		ServiceName:    "autoagent-test",
	})
	require.NoError(t, m.Initialize(ctx))
	defer SetGlobalRecorder(NoopRecorder{})
	defer func() { _ = m.Shutdown(ctx) }()

	rec := m.Recorder()
	rec.RecordRun(ctx, "completed", 1500*time.Millisecond)
	rec.RecordToolCall(ctx, "read_file", nil)
	rec.RecordToolCall(ctx, "write_file", errors.New("permission denied"))
	rec.RecordLLMRequest(ctx, "openai", "gpt-4o-mini", 800*time.Millisecond, 1200, 300, nil)
	rec.RecordSafetyViolation(ctx, "inspector")

	srv := httptest.NewServer(m.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	exposition := string(body)

	for _, name := range []string{
		"autoagent_run_duration_seconds",
		"autoagent_runs_total",
		"autoagent_tool_calls_total",
		"autoagent_tool_errors_total",
		"autoagent_llm_request_duration_seconds",
		"autoagent_llm_tokens_input_total",
		"autoagent_llm_tokens_output_total",
		"autoagent_safety_violations_total",
	} {
		assert.Contains(t, exposition, name)
	}
}

func TestManagerMetricsDisabled(t *testing.T) {
	ctx := context.Background()
	m := NewManager(config.ObservabilityConfig{
		MetricsEnabled: config.BoolPtr(false),
	})
	require.NoError(t, m.Initialize(ctx))
	defer SetGlobalRecorder(NoopRecorder{})

	assert.False(t, m.MetricsEnabled())
	assert.IsType(t, NoopRecorder{}, m.Recorder())

	rr := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "metrics not enabled", rr.Body.String())
}

func TestManagerMetricsDefaultOn(t *testing.T) {
	m := NewManager(config.ObservabilityConfig{})
	assert.True(t, m.MetricsEnabled())
}

func TestTracerDisabledIsUsable(t *testing.T) {
	ctx := context.Background()
	m := NewManager(config.ObservabilityConfig{
		MetricsEnabled: config.BoolPtr(false),
		TracingEnabled: false,
	})
	require.NoError(t, m.Initialize(ctx))
	defer SetGlobalRecorder(NoopRecorder{})

	_, span := m.Tracer("test").Start(ctx, SpanRun)
	span.End()
}

func TestTracerStdoutExporter(t *testing.T) {
	ctx := context.Background()
	m := NewManager(config.ObservabilityConfig{
		MetricsEnabled: config.BoolPtr(false),
		TracingEnabled: true,
		OTLPEndpoint:   "stdout",
		ServiceName:    "autoagent-test",
	})
	require.NoError(t, m.Initialize(ctx))
	defer SetGlobalRecorder(NoopRecorder{})

	_, span := m.Tracer("test").Start(ctx, SpanToolExecution)
	span.End()
	require.NoError(t, m.Shutdown(ctx))
}

func TestGlobalRecorder(t *testing.T) {
	defer SetGlobalRecorder(NoopRecorder{})

	SetGlobalRecorder(nil)
	assert.IsType(t, NoopRecorder{}, GetGlobalRecorder())

	custom := &countingRecorder{}
	SetGlobalRecorder(custom)
	GetGlobalRecorder().RecordToolCall(context.Background(), "glob_files", nil)
	assert.Equal(t, 1, custom.toolCalls)
}

func TestNoopRecorderDiscards(t *testing.T) {
	ctx := context.Background()
	var rec Recorder = NoopRecorder{}
	rec.RecordRun(ctx, "failed", time.Second)
	rec.RecordToolCall(ctx, "search_code", errors.New("boom"))
	rec.RecordLLMRequest(ctx, "anthropic", "claude", time.Second, 10, 5, nil)
	rec.RecordSafetyViolation(ctx, "egress")
}

func TestHTTPMiddlewareCapturesStatus(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	var sawWrapped bool
	handler := HTTPMiddleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawWrapped = true
		w.WriteHeader(http.StatusNotFound)
		// A second WriteHeader must not change the recorded status.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("missing"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/none", nil))

	assert.True(t, sawWrapped)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "missing", rr.Body.String())
}

type countingRecorder struct {
	toolCalls int
}

func (c *countingRecorder) RecordRun(context.Context, string, time.Duration) {}

func (c *countingRecorder) RecordToolCall(context.Context, string, error) { c.toolCalls++ }

func (c *countingRecorder) RecordLLMRequest(context.Context, string, string, time.Duration, int, int, error) {
}

func (c *countingRecorder) RecordSafetyViolation(context.Context, string) {}
