// Package config defines the typed configuration tree, its defaults and
// validation, and the loader that reads it from a config source.
package config

import (
	"fmt"
)

// Config is the root configuration document.
type Config struct {
	// Logging configures the process-wide logger.
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// ControlPlane configures the control-plane server and client.
	ControlPlane ControlPlaneConfig `yaml:"control_plane,omitempty"`

	// Providers lists the LLM providers available to runs.
	Providers []*LLMProviderConfig `yaml:"providers,omitempty"`

	// Agent configures the run orchestrator.
	Agent AgentConfig `yaml:"agent,omitempty"`

	// Safety configures the command inspector, egress policy and tool policy.
	Safety SafetyConfig `yaml:"safety,omitempty"`

	// Retention configures the control-plane retention sweeper.
	Retention RetentionConfig `yaml:"retention,omitempty"`

	// Observability configures metrics and tracing.
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// SetDefaults applies defaults across all sections.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.ControlPlane.SetDefaults()
	c.Agent.SetDefaults()
	c.Safety.SetDefaults()
	c.Retention.SetDefaults()
	c.Observability.SetDefaults()

	if len(c.Providers) == 0 {
		c.Providers = []*LLMProviderConfig{{}}
	}
	for _, p := range c.Providers {
		if p != nil {
			p.SetDefaults()
		}
	}
}

// Validate checks all sections and rejects the first problem found.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.ControlPlane.Validate(); err != nil {
		return fmt.Errorf("control_plane: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Safety.Validate(); err != nil {
		return fmt.Errorf("safety: %w", err)
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate provider id %q", i, p.ID)
		}
		seen[p.ID] = true
	}

	if c.Agent.ProviderID != "" && !seen[c.Agent.ProviderID] {
		return fmt.Errorf("agent: provider_id %q does not match any configured provider", c.Agent.ProviderID)
	}
	if c.Agent.AuxProviderID != "" && !seen[c.Agent.AuxProviderID] {
		return fmt.Errorf("agent: aux_provider_id %q does not match any configured provider", c.Agent.AuxProviderID)
	}

	return nil
}

// Provider returns the provider config with the given id, or nil.
func (c *Config) Provider(id string) *LLMProviderConfig {
	for _, p := range c.Providers {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

// PrimaryProvider returns the provider selected by agent.provider_id, falling
// back to the first configured provider.
func (c *Config) PrimaryProvider() *LLMProviderConfig {
	if c.Agent.ProviderID != "" {
		if p := c.Provider(c.Agent.ProviderID); p != nil {
			return p
		}
	}
	if len(c.Providers) > 0 {
		return c.Providers[0]
	}
	return nil
}

// AuxProvider returns the provider used for auxiliary calls such as context
// summarization, falling back to the primary provider.
func (c *Config) AuxProvider() *LLMProviderConfig {
	if c.Agent.AuxProviderID != "" {
		if p := c.Provider(c.Agent.AuxProviderID); p != nil {
			return p
		}
	}
	return c.PrimaryProvider()
}

// BoolPtr returns a pointer to b, for optional boolean fields.
func BoolPtr(b bool) *bool {
	return &b
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is "simple" (level + message) or "verbose" (adds timestamps).
	Format string `yaml:"format,omitempty"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "simple", "verbose":
	default:
		return fmt.Errorf("invalid format %q (valid: simple, verbose)", c.Format)
	}
	return nil
}
