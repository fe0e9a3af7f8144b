// Package config handles TOML configuration for tagsweep.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/yairfalse/tagsweep/internal/retry"
)

// Config is the root configuration structure.
type Config struct {
	Provider       ProviderConfig       `toml:"provider"`
	AWS            AWSConfig            `toml:"aws"`
	Azure          AzureConfig          `toml:"azure"`
	Classification ClassificationConfig `toml:"classification"`
	Engine         EngineConfig         `toml:"engine"`
	Filter         FilterConfig         `toml:"filter"`
	OTEL           OTELConfig           `toml:"otel"`
	Daemon         DaemonConfig         `toml:"daemon"`
	Policy         PolicyConfig         `toml:"policy"`
	Audit          AuditConfig          `toml:"audit"`
	Log            LogConfig            `toml:"log"`
}

// ProviderConfig selects the cloud provider.
type ProviderConfig struct {
	Name string `toml:"name"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Regions []string `toml:"regions"`
	Profile string   `toml:"profile"`
}

// AzureConfig holds Azure provider settings.
type AzureConfig struct {
	Subscriptions []string `toml:"subscriptions"`
}

// ClassificationConfig names the tags used for grouping and metadata.
type ClassificationConfig struct {
	Tag         string              `toml:"tag"`
	Aliases     map[string][]string `toml:"aliases"`
	OwnerTags   []string            `toml:"owner_tags"`
	UserTags    []string            `toml:"user_tags"`
	CreatedTags []string            `toml:"created_tags"`
}

// EngineConfig holds fan-out, retry and remediation limits.
type EngineConfig struct {
	Concurrency      int     `toml:"concurrency"`
	MaxAttempts      int     `toml:"max_attempts"`
	BaseDelayStr     string  `toml:"base_delay"`
	MaxDelayStr      string  `toml:"max_delay"`
	RemediationRate  float64 `toml:"remediation_rate"`
	RemediationBurst int     `toml:"remediation_burst"`

	BaseDelay time.Duration `toml:"-"`
	MaxDelay  time.Duration `toml:"-"`
}

// RetryPolicy returns the throttling retry policy described by the engine settings.
func (e EngineConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: e.MaxAttempts,
		BaseDelay:   e.BaseDelay,
		MaxDelay:    e.MaxDelay,
	}
}

// FilterConfig narrows listings.
type FilterConfig struct {
	ExcludeKinds []string          `toml:"exclude_kinds"`
	NamePrefix   string            `toml:"name_prefix"`
	NameContains string            `toml:"name_contains"`
	Attrs        map[string]string `toml:"attrs"`
	IncludeTags  map[string]string `toml:"include_tags"`
	ExcludeTags  map[string]string `toml:"exclude_tags"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	// Prometheus exposes metrics for scraping in addition to OTLP push.
	Prometheus bool `toml:"prometheus"`
}

// DaemonConfig holds settings for continuous reporting.
type DaemonConfig struct {
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`
	Kinds       []string      `toml:"kinds"`
	MetricsAddr string        `toml:"metrics_addr"`
}

// PolicyConfig points at extra rego modules.
type PolicyConfig struct {
	Path string `toml:"path"`
}

// AuditConfig holds the audit journal location.
type AuditConfig struct {
	Path string `toml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a config with defaults applied, used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "aws"
	}
	if len(cfg.AWS.Regions) == 0 && cfg.Provider.Name == "aws" {
		cfg.AWS.Regions = []string{"us-east-1"}
	}
	if cfg.Classification.Tag == "" {
		cfg.Classification.Tag = "VSAD"
	}
	if cfg.Engine.Concurrency == 0 {
		cfg.Engine.Concurrency = 20
	}
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = 5
	}
	if cfg.Engine.BaseDelayStr == "" {
		cfg.Engine.BaseDelayStr = "500ms"
	}
	if cfg.Engine.MaxDelayStr == "" {
		cfg.Engine.MaxDelayStr = "20s"
	}
	if cfg.Engine.RemediationRate == 0 {
		cfg.Engine.RemediationRate = 5
	}
	if cfg.Engine.RemediationBurst == 0 {
		cfg.Engine.RemediationBurst = 1
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "tagsweep"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "5m"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Daemon.Interval, err = parseDuration("daemon.interval", cfg.Daemon.IntervalStr); err != nil {
		return err
	}
	if cfg.Engine.BaseDelay, err = parseDuration("engine.base_delay", cfg.Engine.BaseDelayStr); err != nil {
		return err
	}
	if cfg.Engine.MaxDelay, err = parseDuration("engine.max_delay", cfg.Engine.MaxDelayStr); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "aws":
		if len(c.AWS.Regions) == 0 {
			return fmt.Errorf("aws: at least one region required")
		}
	case "azure":
		if len(c.Azure.Subscriptions) == 0 {
			return fmt.Errorf("azure: at least one subscription required")
		}
	default:
		return fmt.Errorf("provider: unknown provider %q (want aws or azure)", c.Provider.Name)
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine: concurrency must be positive (got %d)", c.Engine.Concurrency)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine: max_attempts must be positive (got %d)", c.Engine.MaxAttempts)
	}
	if err := c.Engine.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.RemediationRate < 0 {
		return fmt.Errorf("engine: remediation_rate must not be negative (got %v)", c.Engine.RemediationRate)
	}
	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon: interval must be positive (got %s)", c.Daemon.Interval)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: invalid level %q", c.Log.Level)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
