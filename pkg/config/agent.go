package config

import "fmt"

const maxTurnLimit = 25

// AgentConfig configures the run orchestrator.
type AgentConfig struct {
	// MaxTurns bounds the turn loop. Hard upper limit is 25.
	MaxTurns int `yaml:"max_turns,omitempty"`

	// ProjectRoot is the directory runs operate in. All file tools are
	// contained within it.
	ProjectRoot string `yaml:"project_root,omitempty"`

	// ProviderID selects the primary provider by id. Defaults to the first
	// configured provider.
	ProviderID string `yaml:"provider_id,omitempty"`

	// AuxProviderID selects the provider used for context summarization.
	// Defaults to the primary provider.
	AuxProviderID string `yaml:"aux_provider_id,omitempty"`

	// TokenEstimator selects "chars" (length/4) or "tiktoken".
	TokenEstimator string `yaml:"token_estimator,omitempty"`

	// RepoMapBudget caps the repo map in characters.
	RepoMapBudget int `yaml:"repo_map_budget,omitempty"`

	// RoutingMode labels model-performance samples and the promotion
	// baseline this agent's runs contribute to.
	RoutingMode string `yaml:"routing_mode,omitempty"`

	// MCPAdapters lists MCP servers whose tools join the registry.
	// Each adapter's subprocess lives for the duration of one run.
	MCPAdapters []MCPAdapterConfig `yaml:"mcp_adapters,omitempty"`
}

// MCPAdapterConfig declares one MCP server subprocess.
type MCPAdapterConfig struct {
	// ID prefixes the adapter's tool names as mcp_<id>_<tool>.
	ID string `yaml:"id"`

	// Command is the executable to spawn.
	Command string `yaml:"command"`

	// Args are passed to the command.
	Args []string `yaml:"args,omitempty"`

	// Env is extra environment for the subprocess.
	Env map[string]string `yaml:"env,omitempty"`

	// Tools limits which server tools are exposed. Empty exposes all.
	Tools []string `yaml:"tools,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.MaxTurns == 0 {
		c.MaxTurns = maxTurnLimit
	}
	if c.ProjectRoot == "" {
		c.ProjectRoot = "."
	}
	if c.TokenEstimator == "" {
		c.TokenEstimator = "chars"
	}
	if c.RepoMapBudget == 0 {
		c.RepoMapBudget = 3000
	}
	if c.RoutingMode == "" {
		c.RoutingMode = "balanced"
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.MaxTurns < 1 || c.MaxTurns > maxTurnLimit {
		return fmt.Errorf("max_turns must be between 1 and %d", maxTurnLimit)
	}
	switch c.TokenEstimator {
	case "chars", "tiktoken":
	default:
		return fmt.Errorf("invalid token_estimator %q (valid: chars, tiktoken)", c.TokenEstimator)
	}
	if c.RepoMapBudget < 0 {
		return fmt.Errorf("repo_map_budget must not be negative")
	}
	for i, adapter := range c.MCPAdapters {
		if adapter.ID == "" {
			return fmt.Errorf("mcp_adapters[%d]: id is required", i)
		}
		if adapter.Command == "" {
			return fmt.Errorf("mcp_adapters[%d]: command is required", i)
		}
	}
	return nil
}
