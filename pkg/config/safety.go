package config

import "fmt"

// SafetyConfig configures the egress policy and tool policy. The settings
// document on the control plane overrides these at run start when present.
type SafetyConfig struct {
	// EgressMode is off, audit or enforce.
	EgressMode string `yaml:"egress_mode,omitempty"`

	// AllowedHosts are hosts run_command may reach without approval.
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`

	// AllowedTools restricts the tool surface. Empty means all registered
	// tools are allowed.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`

	// ApprovalTools always require operator approval.
	ApprovalTools []string `yaml:"approval_tools,omitempty"`
}

// SetDefaults applies default values.
func (c *SafetyConfig) SetDefaults() {
	if c.EgressMode == "" {
		c.EgressMode = "enforce"
	}
}

// Validate checks the safety configuration.
func (c *SafetyConfig) Validate() error {
	switch c.EgressMode {
	case "off", "audit", "enforce":
	default:
		return fmt.Errorf("invalid egress_mode %q (valid: off, audit, enforce)", c.EgressMode)
	}
	return nil
}
