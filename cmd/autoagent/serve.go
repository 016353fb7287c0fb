package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/autoagent/autoagent/pkg/observability"
	"github.com/autoagent/autoagent/pkg/server"
	"github.com/autoagent/autoagent/pkg/store"
)

// ServeCmd starts the control-plane server and the retention sweeper.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config and PORT)."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Port != 0 {
		cfg.ControlPlane.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	st, err := store.Open(ctx, cfg.ControlPlane.Database)
	if err != nil {
		return fmt.Errorf("failed to open control-plane store: %w", err)
	}
	defer st.Close()

	go server.NewSweeper(st, cfg.Retention).Run(ctx)

	srv := server.New(cfg.ControlPlane, st, server.WithObservability(obs))
	fmt.Printf("Control plane listening on %s\n", srv.Address())
	fmt.Printf("  Health:  http://localhost%s/health\n", srv.Address())
	if obs.MetricsEnabled() {
		fmt.Printf("  Metrics: http://localhost%s/metrics\n", srv.Address())
	}
	return srv.Run(ctx)
}
