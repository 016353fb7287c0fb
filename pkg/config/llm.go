package config

import (
	"fmt"
	"os"
)

// ProviderKind identifies the LLM provider protocol.
type ProviderKind string

const (
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindAnthropic ProviderKind = "anthropic"
)

// LLMProviderConfig configures one LLM provider.
type LLMProviderConfig struct {
	// ID names the provider for selection by agent.provider_id.
	ID string `yaml:"id,omitempty"`

	// Kind is the wire protocol (openai or anthropic).
	Kind ProviderKind `yaml:"kind,omitempty"`

	// Model name, e.g. "gpt-4o" or "claude-sonnet-4-20250514".
	Model string `yaml:"model,omitempty"`

	// BaseURL overrides the provider's public endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyRef names the environment variable holding the API key.
	// The key itself never appears in config.
	APIKeyRef string `yaml:"api_key_ref,omitempty"`

	// MaxTokens caps response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// SetDefaults applies default values. An unset kind is detected from the
// API keys present in the environment.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = detectKindFromEnv()
	}
	if c.ID == "" {
		c.ID = string(c.Kind)
	}
	if c.Model == "" {
		switch c.Kind {
		case ProviderKindAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case ProviderKindOpenAI:
			c.Model = "gpt-4o"
		}
	}
	if c.APIKeyRef == "" {
		switch c.Kind {
		case ProviderKindAnthropic:
			c.APIKeyRef = "ANTHROPIC_API_KEY"
		case ProviderKindOpenAI:
			c.APIKeyRef = "OPENAI_API_KEY"
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}

// Validate checks the provider configuration.
func (c *LLMProviderConfig) Validate() error {
	switch c.Kind {
	case ProviderKindOpenAI, ProviderKindAnthropic:
	default:
		return fmt.Errorf("invalid kind %q (valid: openai, anthropic)", c.Kind)
	}
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// ResolveAPIKey reads the referenced environment variable.
func (c *LLMProviderConfig) ResolveAPIKey() string {
	if c.APIKeyRef == "" {
		return ""
	}
	return os.Getenv(c.APIKeyRef)
}

func detectKindFromEnv() ProviderKind {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return ProviderKindAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderKindOpenAI
	}
	return ProviderKindAnthropic
}
