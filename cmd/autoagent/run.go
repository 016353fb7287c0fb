package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/autoagent/autoagent/pkg/agent"
	"github.com/autoagent/autoagent/pkg/config"
	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/operator"
)

// RunCmd executes one objective end to end.
type RunCmd struct {
	Objective []string `arg:"" help:"What the agent should accomplish."`

	Project  string `short:"p" help:"Project root directory (overrides config)." type:"path"`
	Provider string `help:"Provider id to use (overrides config)."`
	Stream   bool   `default:"true" negatable:"" help:"Print assistant text as it streams."`
}

func (c *RunCmd) Run(cli *CLI) error {
	objective := strings.TrimSpace(strings.Join(c.Objective, " "))
	if objective == "" {
		return fmt.Errorf("objective is required")
	}

	return withAgent(cli, c.Project, c.Provider, c.Stream, func(ctx context.Context, a *agent.Agent) error {
		result, err := a.Execute(ctx, objective)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	})
}

// ResumeCmd continues a checkpointed run.
type ResumeCmd struct {
	RunID string `arg:"" help:"Run to resume."`

	Project  string `short:"p" help:"Project root directory (overrides config)." type:"path"`
	Provider string `help:"Provider id to use (overrides config)."`
	Stream   bool   `default:"true" negatable:"" help:"Print assistant text as it streams."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	return withAgent(cli, c.Project, c.Provider, c.Stream, func(ctx context.Context, a *agent.Agent) error {
		result, err := a.Resume(ctx, c.RunID)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	})
}

// RetryCmd re-runs a terminal run from scratch.
type RetryCmd struct {
	RunID string `arg:"" help:"Run to retry."`

	Project  string `short:"p" help:"Project root directory (overrides config)." type:"path"`
	Provider string `help:"Provider id to use (overrides config)."`
	Stream   bool   `default:"true" negatable:"" help:"Print assistant text as it streams."`
}

func (c *RetryCmd) Run(cli *CLI) error {
	return withAgent(cli, c.Project, c.Provider, c.Stream, func(ctx context.Context, a *agent.Agent) error {
		result, err := a.Retry(ctx, c.RunID)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	})
}

// withAgent bootstraps the agent and runs fn under signal-driven
// cancellation: the first SIGINT aborts the run, which persists the
// aborted state before the process exits.
func withAgent(cli *CLI, project, providerID string, stream bool, fn func(context.Context, *agent.Agent) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Aborting...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if project != "" {
		cfg.Agent.ProjectRoot = project
	}
	if providerID != "" {
		cfg.Agent.ProviderID = providerID
	}

	provider, err := buildProvider(cfg.PrimaryProvider())
	if err != nil {
		return err
	}

	opts := []agent.Option{
		agent.WithPrompter(operator.NewTerminalPrompter()),
	}
	if aux := cfg.AuxProvider(); aux != nil && aux != cfg.PrimaryProvider() {
		auxProvider, aerr := buildProvider(aux)
		if aerr != nil {
			return aerr
		}
		opts = append(opts, agent.WithAuxProvider(auxProvider))
	}
	if stream {
		opts = append(opts, agent.WithEventSink(streamSink()))
	}

	client := controlplane.NewClient(cfg.ControlPlane.APIURL)
	a, err := agent.New(cfg, client, provider, opts...)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func buildProvider(pc *config.LLMProviderConfig) (llms.Provider, error) {
	if pc == nil {
		return nil, fmt.Errorf("no provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY, or declare providers in config")
	}
	kind, err := llms.ParseProviderKind(string(pc.Kind))
	if err != nil {
		return nil, err
	}
	apiKey := pc.ResolveAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: environment variable %s is not set", pc.ID, pc.APIKeyRef)
	}
	return llms.New(kind, pc.BaseURL, apiKey, pc.Model, pc.MaxTokens)
}

// streamSink renders the live event stream on stdout.
func streamSink() agent.EventSink {
	return func(e agent.Event) {
		switch e.Type {
		case agent.EventToken:
			fmt.Print(e.Message)
		case agent.EventToolCall:
			fmt.Printf("\n[tool] %s\n", e.Message)
		case agent.EventError:
			fmt.Printf("\n[error] %s\n", e.Message)
		}
	}
}

func printResult(result *agent.Result) {
	fmt.Printf("\n\nRun %s %s in %s (%d actions, score %.2f)\n",
		result.RunID, result.Status, result.Duration.Round(time.Millisecond),
		result.Stats.ActionCount, result.Score)
	if result.Stats.SafetyViolations > 0 {
		fmt.Printf("  Safety violations: %d\n", result.Stats.SafetyViolations)
	}
	if len(result.Suggestions) > 0 {
		fmt.Println("  Follow-ups:")
		for _, s := range result.Suggestions {
			fmt.Printf("   - %s: %s\n", s.Kind, s.Title)
		}
	}
}
