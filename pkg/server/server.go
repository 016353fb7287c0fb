// Package server implements the control-plane HTTP API: run records,
// trace streams, approvals, threads, user prompts, checkpoints,
// verification artifacts, routing stats, settings and the prompt cache,
// all backed by the SQL store. The retention sweeper runs in the same
// process.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autoagent/autoagent/pkg/config"
	"github.com/autoagent/autoagent/pkg/observability"
	"github.com/autoagent/autoagent/pkg/store"
)

// Server is the control-plane HTTP server.
type Server struct {
	cfg    config.ControlPlaneConfig
	store  *store.Store
	obs    *observability.Manager
	server *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithObservability attaches the metrics and tracing manager. The
// /metrics endpoint is mounted only when metrics are enabled.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		s.obs = obs
	}
}

// New creates a control-plane server over the given store.
func New(cfg config.ControlPlaneConfig, st *store.Store, opts ...Option) *Server {
	if cfg.Port == 0 {
		cfg.SetDefaults()
	}

	s := &Server{
		cfg:   cfg,
		store: st,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.server.Addr
}

// Handler returns the assembled route tree, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("Control plane starting", "address", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("Control plane shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control plane shutdown: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware)
	if s.obs != nil {
		r.Use(observability.HTTPMiddleware(s.obs.Tracer("controlplane")))
	}

	r.Get("/health", s.handleHealth)
	if s.obs != nil && s.obs.MetricsEnabled() {
		r.Get("/metrics", s.obs.MetricsHandler().ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Put("/", s.handleUpdateRun)
				r.Delete("/", s.handleDeleteRun)
			})
		})

		r.Route("/traces/{runID}", func(r chi.Router) {
			r.Post("/", s.handleAppendTrace)
			r.Get("/", s.handleListTraces)
			r.Get("/metrics", s.handleTraceMetrics)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", s.handleCreateApproval)
			r.Get("/", s.handleListApprovals)
			r.Get("/{approvalID}", s.handleGetApproval)
			r.Post("/{approvalID}/resolve", s.handleResolveApproval)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleListProviders)
			r.Post("/", s.handleCreateProvider)
			r.Get("/{providerID}", s.handleGetProvider)
			r.Put("/{providerID}", s.handleUpdateProvider)
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Route("/execution-state/{runID}", func(r chi.Router) {
			r.Post("/", s.handleSaveExecutionState)
			r.Get("/", s.handleGetExecutionState)
			r.Delete("/", s.handleDeleteExecutionState)
		})

		r.Route("/threads", func(r chi.Router) {
			r.Post("/", s.handleCreateThread)
			r.Get("/by-run/{runID}", s.handleThreadByRun)
			r.Get("/{threadID}/messages", s.handleListThreadMessages)
			r.Post("/{threadID}/messages", s.handleAppendThreadMessage)
		})

		r.Route("/prompts", func(r chi.Router) {
			r.Post("/", s.handleCreatePrompt)
			r.Get("/by-run/{runID}", s.handlePromptsByRun)
			r.Get("/{promptID}", s.handleGetPrompt)
			r.Post("/{promptID}/answer", s.handleAnswerPrompt)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Post("/", s.handleCreateArtifact)
			r.Get("/by-run/{runID}", s.handleArtifactsByRun)
		})

		r.Route("/model-performance", func(r chi.Router) {
			r.Post("/", s.handleRecordModelPerformance)
			r.Get("/{providerID}/{mode}", s.handleModelPerformanceSamples)
		})

		r.Route("/promotions/evaluations", func(r chi.Router) {
			r.Post("/", s.handleCreatePromotionEvaluation)
			r.Get("/", s.handleListPromotionEvaluations)
		})

		r.Route("/prompt-cache/{key}", func(r chi.Router) {
			r.Get("/", s.handleGetCachedPrompt)
			r.Post("/", s.handlePutCachedPrompt)
		})
	})

	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Control-plane request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
