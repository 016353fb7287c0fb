// Package observability wires metrics and tracing. Metrics flow through
// an OpenTelemetry meter into a prometheus registry served at /metrics;
// traces go to an OTLP collector when enabled. Disabled concerns fall
// back to noop implementations so call sites never branch.
package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/autoagent/autoagent/pkg/config"
)

// Manager owns the metric and trace providers for one process.
type Manager struct {
	mu             sync.RWMutex
	cfg            config.ObservabilityConfig
	recorder       Recorder
	registry       *prometheus.Registry
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider trace.TracerProvider
}

// NewManager returns an uninitialized manager. Until Initialize runs,
// Recorder() is a noop and MetricsHandler() reports unavailable.
func NewManager(cfg config.ObservabilityConfig) *Manager {
	return &Manager{
		cfg:            cfg,
		recorder:       NoopRecorder{},
		tracerProvider: noop.NewTracerProvider(),
	}
}

// Initialize builds the configured providers.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := initTracer(ctx, m.cfg)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	if m.MetricsEnabled() {
		registry := prometheus.NewRegistry()
		recorder, meterProvider, err := initRecorder(registry)
		if err != nil {
			return err
		}
		m.registry = registry
		m.recorder = recorder
		m.meterProvider = meterProvider
	}

	SetGlobalRecorder(m.recorder)
	return nil
}

// MetricsEnabled reports whether the prometheus endpoint is configured.
func (m *Manager) MetricsEnabled() bool {
	return m.cfg.MetricsEnabled == nil || *m.cfg.MetricsEnabled
}

// Recorder returns the active metrics recorder.
func (m *Manager) Recorder() Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recorder
}

// Tracer returns a named tracer from the active provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

// MetricsHandler serves the prometheus exposition endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if tp, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
