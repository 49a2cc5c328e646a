// Package config loads daemon configuration from ~/.steward/config.yaml,
// with environment variables taking precedence for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirrorlake/steward/pkg/schema"
)

// Config holds the daemon configuration after defaults and environment
// overrides are applied.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Routing   RoutingConfig    `yaml:"routing"`
	Breaker   BreakerConfig    `yaml:"breaker"`
	Retry     RetryConfig      `yaml:"retry"`
	Daemon    DaemonConfig     `yaml:"daemon"`
	Workspace WorkspaceConfig  `yaml:"workspace"`

	SessionDir  string `yaml:"session_dir"`
	SteeringDir string `yaml:"steering_dir"`
	ConfigDir   string `yaml:"-"`
}

// ProviderConfig describes one backend in the rank list.
type ProviderConfig struct {
	Name         string              `yaml:"name"`
	Rank         int                 `yaml:"rank"`
	CostTier     schema.CostTier     `yaml:"cost_tier"`
	Capabilities []schema.Capability `yaml:"capabilities"`
	Model        string              `yaml:"model,omitempty"`
	APIKey       string              `yaml:"api_key,omitempty"`
	BaseURL      string              `yaml:"base_url,omitempty"`
	// RequestsPerMinute of 0 means no client-side rate limit.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
}

// RoutingConfig selects the routing mode and its parameters.
type RoutingConfig struct {
	Mode         string `yaml:"mode,omitempty"`
	ProviderOnly string `yaml:"provider_only,omitempty"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold,omitempty"`
	FailureWindowSec int `yaml:"failure_window_seconds,omitempty"`
	CooldownSec      int `yaml:"cooldown_seconds,omitempty"`
}

// FailureWindow returns the configured window as a duration.
func (b BreakerConfig) FailureWindow() time.Duration {
	return time.Duration(b.FailureWindowSec) * time.Second
}

// Cooldown returns the configured cooldown as a duration.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSec) * time.Second
}

// RetryConfig controls the persistent retry queue.
type RetryConfig struct {
	QueuePath  string `yaml:"queue_path,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// DaemonConfig tunes the scheduler.
type DaemonConfig struct {
	MaxParallelJobs  int `yaml:"max_parallel_jobs,omitempty"`
	SweepIntervalSec int `yaml:"sweep_interval_seconds,omitempty"`
	DefaultMaxTurns  int `yaml:"default_max_turns,omitempty"`
}

// SweepInterval returns the configured sweep interval as a duration.
func (d DaemonConfig) SweepInterval() time.Duration {
	return time.Duration(d.SweepIntervalSec) * time.Second
}

// WorkspaceConfig confines tool execution.
type WorkspaceConfig struct {
	Root            string   `yaml:"root,omitempty"`
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`
}

// Load reads ~/.steward/config.yaml, applies defaults, and resolves
// credentials. A missing file yields the default configuration.
func Load() (*Config, error) {
	configDir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return loadFrom(filepath.Join(configDir, "config.yaml"), configDir)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	configDir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
	}
	return loadFrom(path, configDir)
}

func loadFrom(path, configDir string) (*Config, error) {
	cfg := &Config{ConfigDir: configDir}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyDefaults(cfg)
	resolveAPIKeys(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Routing.Mode {
	case "respect_ranking", "optimize_cost", "provider_only", "round_robin":
	default:
		return fmt.Errorf("unknown routing mode %q", c.Routing.Mode)
	}
	if c.Routing.Mode == "provider_only" && c.Routing.ProviderOnly == "" {
		return fmt.Errorf("routing mode provider_only requires provider_only to name a provider")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true

		switch p.CostTier {
		case schema.CostTierFree, schema.CostTierIncluded, schema.CostTierMetered, schema.CostTierPremium:
		default:
			return fmt.Errorf("provider %q: unknown cost tier %q", p.Name, p.CostTier)
		}
	}
	return nil
}

// HasProvider reports whether a provider of that name is configured with
// usable credentials. Local providers need no key.
func (c *Config) HasProvider(name string) bool {
	for _, p := range c.Providers {
		if p.Name != name {
			continue
		}
		if p.Name == "ollama" {
			return true
		}
		return p.APIKey != ""
	}
	return false
}

func applyDefaults(cfg *Config) {
	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders()
	}
	if cfg.Routing.Mode == "" {
		cfg.Routing.Mode = "respect_ranking"
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 3
	}
	if cfg.Breaker.FailureWindowSec == 0 {
		cfg.Breaker.FailureWindowSec = 60
	}
	if cfg.Breaker.CooldownSec == 0 {
		cfg.Breaker.CooldownSec = 30
	}
	if cfg.Retry.QueuePath == "" {
		cfg.Retry.QueuePath = filepath.Join(cfg.ConfigDir, "retry_queue.json")
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Daemon.MaxParallelJobs == 0 {
		cfg.Daemon.MaxParallelJobs = 4
	}
	if cfg.Daemon.SweepIntervalSec == 0 {
		cfg.Daemon.SweepIntervalSec = 30
	}
	if cfg.Daemon.DefaultMaxTurns == 0 {
		cfg.Daemon.DefaultMaxTurns = 200
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = filepath.Join(cfg.ConfigDir, "sessions")
	}
	if cfg.SteeringDir == "" {
		cfg.SteeringDir = filepath.Join(cfg.ConfigDir, "steering")
	}
	if cfg.Workspace.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace.Root = wd
		}
	}
}

// resolveAPIKeys applies environment variables over file values. The variable
// name is derived from the provider name.
func resolveAPIKeys(cfg *Config) {
	for i := range cfg.Providers {
		envVar := strings.ToUpper(cfg.Providers[i].Name) + "_API_KEY"
		if val := os.Getenv(envVar); val != "" {
			cfg.Providers[i].APIKey = val
		}
	}
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:     "anthropic",
			Rank:     1,
			CostTier: schema.CostTierIncluded,
			Capabilities: []schema.Capability{
				schema.CapabilityCoding, schema.CapabilityReasoning,
				schema.CapabilityCreative, schema.CapabilityLargeContext,
			},
			Model: "claude-sonnet-4-20250514",
		},
		{
			Name:     "openai",
			Rank:     2,
			CostTier: schema.CostTierMetered,
			Capabilities: []schema.Capability{
				schema.CapabilityCoding, schema.CapabilityReasoning,
				schema.CapabilityStructuredData,
			},
			Model: "gpt-5.2-thinking",
		},
		{
			Name:     "google",
			Rank:     3,
			CostTier: schema.CostTierMetered,
			Capabilities: []schema.Capability{
				schema.CapabilityReasoning, schema.CapabilitySearch,
				schema.CapabilityLargeContext,
			},
			Model: "gemini-2.0-pro",
		},
		{
			Name:     "ollama",
			Rank:     4,
			CostTier: schema.CostTierFree,
			Capabilities: []schema.Capability{
				schema.CapabilityCoding, schema.CapabilityFast,
			},
			Model:   "qwen2.5-coder:14b",
			BaseURL: "http://localhost:11434",
		},
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".steward")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
