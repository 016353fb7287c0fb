package main

import (
	"context"
	"fmt"
)

// ValidateCmd loads and validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("validate requires --config")
	}

	cfg, loader, err := loadConfig(context.Background(), cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  Control plane: %s (port %d)\n", cfg.ControlPlane.APIURL, cfg.ControlPlane.Port)
	fmt.Printf("  Providers:     %d configured\n", len(cfg.Providers))
	if primary := cfg.PrimaryProvider(); primary != nil {
		fmt.Printf("  Primary:       %s (%s, %s)\n", primary.ID, primary.Kind, primary.Model)
	}
	fmt.Printf("  Project root:  %s\n", cfg.Agent.ProjectRoot)
	fmt.Printf("  Max turns:     %d\n", cfg.Agent.MaxTurns)
	return nil
}
