package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// ControlPlaneConfig configures the control-plane server and its client.
type ControlPlaneConfig struct {
	// APIURL is the base URL run coordinators talk to.
	// AUTOAGENT_API_URL overrides it.
	APIURL string `yaml:"api_url,omitempty"`

	// Port the control-plane server listens on. PORT overrides it.
	Port int `yaml:"port,omitempty"`

	// Database configures the backing SQL store.
	Database DatabaseConfig `yaml:"database,omitempty"`
}

// SetDefaults applies default values.
func (c *ControlPlaneConfig) SetDefaults() {
	if c.APIURL == "" {
		c.APIURL = "http://localhost:8080"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	c.Database.SetDefaults()
}

// Validate checks the control-plane configuration.
func (c *ControlPlaneConfig) Validate() error {
	if _, err := url.Parse(c.APIURL); err != nil {
		return fmt.Errorf("invalid api_url %q: %w", c.APIURL, err)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return c.Database.Validate()
}

// applyEnvOverrides applies the environment variables that take precedence
// over config file values.
func (c *ControlPlaneConfig) applyEnvOverrides() {
	if v := os.Getenv("AUTOAGENT_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
}

// DatabaseConfig configures the control-plane SQL store.
type DatabaseConfig struct {
	// Driver is sqlite (default), postgres or mysql.
	Driver string `yaml:"driver,omitempty"`

	// DSN is the driver connection string. For sqlite an empty DSN falls
	// back to AUTOAGENT_CONTROL_DB_PATH, then $AUTOAGENT_DATA_DIR/control.db.
	DSN string `yaml:"dsn,omitempty"`
}

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}
	if c.Driver != "sqlite" && c.DSN == "" {
		return fmt.Errorf("dsn is required for driver %q", c.Driver)
	}
	return nil
}

// RetentionConfig configures the control-plane retention sweeper.
type RetentionConfig struct {
	// CleanupIntervalMinutes is the sweep cadence.
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes,omitempty"`

	// TraceRetentionDays keeps traces this many days.
	TraceRetentionDays int `yaml:"trace_retention_days,omitempty"`

	// ArtifactRetentionDays keeps verification artifacts this many days.
	ArtifactRetentionDays int `yaml:"artifact_retention_days,omitempty"`

	// PromptRetentionDays keeps resolved user prompts this many days.
	PromptRetentionDays int `yaml:"prompt_retention_days,omitempty"`

	// PromptCacheRetentionDays keeps prompt-cache entries this many days.
	PromptCacheRetentionDays int `yaml:"prompt_cache_retention_days,omitempty"`
}

// SetDefaults applies default values.
func (c *RetentionConfig) SetDefaults() {
	if c.CleanupIntervalMinutes == 0 {
		c.CleanupIntervalMinutes = 15
	}
	if c.TraceRetentionDays == 0 {
		c.TraceRetentionDays = 30
	}
	if c.ArtifactRetentionDays == 0 {
		c.ArtifactRetentionDays = 30
	}
	if c.PromptRetentionDays == 0 {
		c.PromptRetentionDays = 7
	}
	if c.PromptCacheRetentionDays == 0 {
		c.PromptCacheRetentionDays = 1
	}
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	if c.CleanupIntervalMinutes < 1 {
		return fmt.Errorf("cleanup_interval_minutes must be positive")
	}
	for name, days := range map[string]int{
		"trace_retention_days":        c.TraceRetentionDays,
		"artifact_retention_days":     c.ArtifactRetentionDays,
		"prompt_retention_days":       c.PromptRetentionDays,
		"prompt_cache_retention_days": c.PromptCacheRetentionDays,
	} {
		if days < 1 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsEnabled controls the prometheus /metrics endpoint.
	// Defaults to true.
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`

	// TracingEnabled turns on the OTLP trace exporter.
	TracingEnabled bool `yaml:"tracing_enabled,omitempty"`

	// OTLPEndpoint is the gRPC collector address, e.g. "localhost:4317".
	// The value "stdout" prints spans to stdout instead.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// ServiceName reported to the collector.
	ServiceName string `yaml:"service_name,omitempty"`
}

// SetDefaults applies default values.
func (c *ObservabilityConfig) SetDefaults() {
	if c.MetricsEnabled == nil {
		c.MetricsEnabled = BoolPtr(true)
	}
	if c.ServiceName == "" {
		c.ServiceName = "autoagent"
	}
	if c.TracingEnabled && c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4317"
	}
}
