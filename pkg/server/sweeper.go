package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autoagent/autoagent/pkg/config"
	"github.com/autoagent/autoagent/pkg/store"
)

// Sweeper deletes control-plane rows that have outlived their retention
// window. It runs inside the serve process on a fixed cadence.
type Sweeper struct {
	store *store.Store
	cfg   config.RetentionConfig
	now   func() time.Time
}

// SweepResult counts the rows removed by one sweep.
type SweepResult struct {
	Traces       int64
	Artifacts    int64
	Prompts      int64
	CacheEntries int64
}

// Total returns the number of rows removed.
func (r SweepResult) Total() int64 {
	return r.Traces + r.Artifacts + r.Prompts + r.CacheEntries
}

// NewSweeper creates a sweeper over the store.
func NewSweeper(st *store.Store, cfg config.RetentionConfig) *Sweeper {
	if cfg.CleanupIntervalMinutes == 0 {
		cfg.SetDefaults()
	}
	return &Sweeper{
		store: st,
		cfg:   cfg,
		now:   time.Now().UTC,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.CleanupIntervalMinutes) * time.Minute
	slog.Info("Retention sweeper starting", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Retention sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Warn("Retention sweep incomplete", "error", err)
			}
		}
	}
}

// Sweep removes aged rows once. The settings document overrides the
// configured windows, so an operator can shorten retention without a
// restart. Each category is swept independently; failures are collected
// rather than aborting the rest.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	traceDays := s.cfg.TraceRetentionDays
	artifactDays := s.cfg.ArtifactRetentionDays
	promptDays := s.cfg.PromptRetentionDays
	cacheDays := s.cfg.PromptCacheRetentionDays

	if settings, err := s.store.GetSettings(ctx); err != nil {
		slog.Warn("Sweep using configured retention, settings unavailable", "error", err)
	} else {
		if settings.TraceRetentionDays > 0 {
			traceDays = settings.TraceRetentionDays
		}
		if settings.ArtifactRetentionDays > 0 {
			artifactDays = settings.ArtifactRetentionDays
		}
		if settings.PromptRetentionDays > 0 {
			promptDays = settings.PromptRetentionDays
		}
		if settings.PromptCacheRetentionDays > 0 {
			cacheDays = settings.PromptCacheRetentionDays
		}
	}

	now := s.now()
	var result SweepResult
	var errs []error

	if n, err := s.store.DeleteTracesBefore(ctx, now.AddDate(0, 0, -traceDays)); err != nil {
		errs = append(errs, fmt.Errorf("traces: %w", err))
	} else {
		result.Traces = n
	}
	if n, err := s.store.DeleteArtifactsBefore(ctx, now.AddDate(0, 0, -artifactDays)); err != nil {
		errs = append(errs, fmt.Errorf("artifacts: %w", err))
	} else {
		result.Artifacts = n
	}
	if n, err := s.store.DeletePromptsBefore(ctx, now.AddDate(0, 0, -promptDays)); err != nil {
		errs = append(errs, fmt.Errorf("prompts: %w", err))
	} else {
		result.Prompts = n
	}
	if n, err := s.store.DeleteCacheBefore(ctx, now.AddDate(0, 0, -cacheDays)); err != nil {
		errs = append(errs, fmt.Errorf("prompt cache: %w", err))
	} else {
		result.CacheEntries = n
	}

	if result.Total() > 0 {
		slog.Info("Retention sweep removed rows",
			"traces", result.Traces,
			"artifacts", result.Artifacts,
			"prompts", result.Prompts,
			"cache_entries", result.CacheEntries)
	}
	return result, errors.Join(errs...)
}
