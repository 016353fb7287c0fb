// Command autoagent is the operator CLI.
//
// Usage:
//
//	autoagent serve --config config.yaml
//	autoagent run "Write hello.py that prints Hello"
//	autoagent resume <run-id>
//	autoagent retry <run-id>
//	autoagent validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/autoagent/autoagent/pkg/config"
	"github.com/autoagent/autoagent/pkg/logger"
	"github.com/autoagent/autoagent/pkg/version"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the control-plane server."`
	Run      RunCmd      `cmd:"" help:"Execute an objective against the project."`
	Resume   ResumeCmd   `cmd:"" help:"Resume a checkpointed run from its replay boundary."`
	Retry    RetryCmd    `cmd:"" help:"Re-run a failed run from scratch with its original input."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("autoagent %s\n", version.Version)
	return nil
}

// loadConfig loads the config file when one is given, or the defaulted
// config otherwise. The returned loader is nil for the default config.
func loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		return config.Default(), nil, nil
	}
	cfg, loader, err := config.LoadConfigFile(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, loader, nil
}

func (cli *CLI) setupLogging() func() {
	level, _ := logger.ParseLevel(cli.LogLevel)

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", cli.LogFile, err)
		} else {
			output = file
			cleanup = closeFile
		}
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("autoagent"),
		kong.Description("Operator-supervised autonomous coding agent."),
		kong.UsageOnError(),
	)

	cleanup := cli.setupLogging()
	defer cleanup()

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
}
