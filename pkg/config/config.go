// Package config loads and validates the agent's configuration snapshot.
// The configuration is read once at startup and is immutable afterwards;
// any validation failure is fatal.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// prohibitedTargets are process target names that are too generic to use
// safely. Matching on them could take down interpreters, shells or the
// container runtime itself.
var prohibitedTargets = map[string]struct{}{
	"python":     {},
	"python3":    {},
	"java":       {},
	"node":       {},
	"go":         {},
	"sh":         {},
	"bash":       {},
	"zsh":        {},
	"ksh":        {},
	"systemd":    {},
	"init":       {},
	"root":       {},
	"kubelet":    {},
	"dockerd":    {},
	"containerd": {},
}

// ValidationError reports an invalid or missing configuration value.
// It is returned from Load and prevents the agent from starting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config is the root configuration of the agent
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Failures FailuresConfig `mapstructure:"failures"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// AgentConfig holds the agent-level settings
type AgentConfig struct {
	// IntervalSeconds is the pause between scheduler ticks. Required, > 0.
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// DryRun disables all system-level effects, keeping only decision
	// logic and metrics
	DryRun bool `mapstructure:"dry_run"`
	// Seed for the scheduler's random source. 0 seeds from the clock.
	// A fixed seed makes the injection schedule reproducible.
	Seed int64 `mapstructure:"seed"`
}

// Interval returns the tick interval as a time.Duration
func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.IntervalSeconds) * time.Second
}

// FailuresConfig holds the per-failure-type settings
type FailuresConfig struct {
	CPU     CPUConfig     `mapstructure:"cpu"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Process ProcessConfig `mapstructure:"process"`
	Network NetworkConfig `mapstructure:"network"`
}

// CPUConfig configures the cpu failure type
type CPUConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Probability     float64 `mapstructure:"probability"`
	DurationSeconds int     `mapstructure:"duration_seconds"`
	Cores           int     `mapstructure:"cores"`
}

// MemoryConfig configures the memory failure type
type MemoryConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Probability     float64 `mapstructure:"probability"`
	DurationSeconds int     `mapstructure:"duration_seconds"`
	Megabytes       int     `mapstructure:"megabytes"`
}

// ProcessConfig configures the process failure type
type ProcessConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Probability float64 `mapstructure:"probability"`
	// Target is a case-insensitive substring matched against process
	// names and command lines
	Target string `mapstructure:"target_name"`
}

// NetworkConfig configures the network failure type
type NetworkConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Probability     float64 `mapstructure:"probability"`
	DurationSeconds int     `mapstructure:"duration_seconds"`
	Interface       string  `mapstructure:"interface"`
	DelayMillis     int     `mapstructure:"delay_ms"`
}

// MetricsConfig configures the prometheus exposition endpoint
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// Load reads the configuration from the given file, applying defaults and
// environment overrides (CHAOS_AGENT_DRY_RUN=true overrides agent.dry_run).
// If path is empty, a config.yaml is searched in the working directory and
// /etc/chaos-agent. The returned snapshot is validated; a *ValidationError
// is returned for malformed or missing required values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chaos-agent")
	}

	v.SetEnvPrefix("CHAOS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		// without an explicit path, a missing file means env and defaults only
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// agent.interval_seconds has deliberately no default: it is required
	v.SetDefault("agent.dry_run", false)
	v.SetDefault("metrics.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("failures.cpu.cores", 1)
	v.SetDefault("failures.memory.megabytes", 100)
	v.SetDefault("failures.network.interface", "eth0")
	v.SetDefault("failures.network.delay_ms", 100)
}

// bindEnv registers every known key with viper so values set only in the
// environment reach Unmarshal. AutomaticEnv alone covers just the keys that
// already have a default or appear in the file.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"agent.interval_seconds",
		"agent.dry_run",
		"agent.seed",
		"failures.cpu.enabled",
		"failures.cpu.probability",
		"failures.cpu.duration_seconds",
		"failures.cpu.cores",
		"failures.memory.enabled",
		"failures.memory.probability",
		"failures.memory.duration_seconds",
		"failures.memory.megabytes",
		"failures.process.enabled",
		"failures.process.probability",
		"failures.process.target_name",
		"failures.network.enabled",
		"failures.network.probability",
		"failures.network.duration_seconds",
		"failures.network.interface",
		"failures.network.delay_ms",
		"metrics.port",
		"log.level",
		"log.format",
	}
	for _, key := range keys {
		// BindEnv only fails when called without a key
		_ = v.BindEnv(key)
	}
}

func (c *Config) validate() error {
	if c.Agent.IntervalSeconds <= 0 {
		return &ValidationError{
			Field:  "agent.interval_seconds",
			Reason: "must be a positive number of seconds",
		}
	}

	if err := validateProbability("failures.cpu", c.Failures.CPU.Probability); err != nil {
		return err
	}
	if err := validateProbability("failures.memory", c.Failures.Memory.Probability); err != nil {
		return err
	}
	if err := validateProbability("failures.process", c.Failures.Process.Probability); err != nil {
		return err
	}
	if err := validateProbability("failures.network", c.Failures.Network.Probability); err != nil {
		return err
	}

	if c.Failures.CPU.Enabled {
		if c.Failures.CPU.DurationSeconds <= 0 {
			return &ValidationError{Field: "failures.cpu.duration_seconds", Reason: "must be positive"}
		}
		if c.Failures.CPU.Cores <= 0 {
			return &ValidationError{Field: "failures.cpu.cores", Reason: "must be positive"}
		}
	}

	if c.Failures.Memory.Enabled {
		if c.Failures.Memory.DurationSeconds <= 0 {
			return &ValidationError{Field: "failures.memory.duration_seconds", Reason: "must be positive"}
		}
		if c.Failures.Memory.Megabytes <= 0 {
			return &ValidationError{Field: "failures.memory.megabytes", Reason: "must be positive"}
		}
	}

	if c.Failures.Process.Enabled {
		if err := validateTarget(c.Failures.Process.Target); err != nil {
			return err
		}
	}

	if c.Failures.Network.Enabled {
		if c.Failures.Network.DurationSeconds <= 0 {
			return &ValidationError{Field: "failures.network.duration_seconds", Reason: "must be positive"}
		}
		if c.Failures.Network.DelayMillis <= 0 {
			return &ValidationError{Field: "failures.network.delay_ms", Reason: "must be positive"}
		}
		if c.Failures.Network.Interface == "" {
			return &ValidationError{Field: "failures.network.interface", Reason: "must not be empty"}
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &ValidationError{Field: "log.format", Reason: "must be one of: text, json"}
	}

	return nil
}

func validateProbability(prefix string, p float64) error {
	if p < 0 || p > 1 {
		return &ValidationError{
			Field:  prefix + ".probability",
			Reason: fmt.Sprintf("%v is outside the range [0, 1]", p),
		}
	}
	return nil
}

// validateTarget rejects process target names that are empty, too short to
// be specific, or generic enough to match critical processes.
func validateTarget(target string) error {
	normalized := strings.ToLower(strings.TrimSpace(target))

	if normalized == "" {
		return &ValidationError{Field: "failures.process.target_name", Reason: "must not be empty"}
	}

	if len(normalized) < 3 {
		return &ValidationError{
			Field:  "failures.process.target_name",
			Reason: fmt.Sprintf("%q is too short (minimum 3 characters)", target),
		}
	}

	if _, prohibited := prohibitedTargets[normalized]; prohibited {
		return &ValidationError{
			Field:  "failures.process.target_name",
			Reason: fmt.Sprintf("%q is too generic and could match critical processes", target),
		}
	}

	return nil
}
