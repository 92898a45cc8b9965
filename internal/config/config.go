// Package config loads binflow's file configuration. Policy thresholds use
// human-readable data sizes ("10 MB") and Go durations ("30s"); a .env file
// and environment variables can override selected values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/binflow/binflow"
)

// Config is the top-level file configuration.
type Config struct {
	// Policy thresholds; see binflow.Policy.
	MinSize     string `yaml:"min_size"`
	MaxSize     string `yaml:"max_size"`
	MinEntries  int    `yaml:"min_entries"`
	MaxEntries  int    `yaml:"max_entries"`
	MaxBinAge   string `yaml:"max_bin_age"`
	MaxBinCount int    `yaml:"max_bin_count"`

	// GroupBy names the item attribute to group bins by. Empty places all
	// items in a single group.
	GroupBy string `yaml:"group_by"`

	// Yield is how long the runner backs off after an idle activation.
	Yield string `yaml:"yield"`

	// LogLevel is a zerolog level name ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`

	Source Source `yaml:"source"`
}

// Source selects and configures the item source.
type Source struct {
	// Kind is one of "memory", "kafka", "redis", "postgres".
	Kind string `yaml:"kind"`

	Kafka struct {
		Brokers       []string `yaml:"brokers"`
		Topic         string   `yaml:"topic"`
		GroupID       string   `yaml:"group_id"`
		OriginalTopic string   `yaml:"original_topic"`
		FailureTopic  string   `yaml:"failure_topic"`
	} `yaml:"kafka"`

	Redis struct {
		Addr string `yaml:"addr"`
		Key  string `yaml:"key"`
	} `yaml:"redis"`

	Postgres struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"postgres"`
}

// Default returns the configuration matching binflow.DefaultPolicy with an
// in-memory source.
func Default() *Config {
	cfg := &Config{
		MinSize:     "0 B",
		MinEntries:  1,
		MaxEntries:  1000,
		MaxBinCount: 5,
		LogLevel:    "info",
	}
	cfg.Source.Kind = "memory"
	return cfg
}

// Load reads the configuration from path. A .env file in the working
// directory is loaded first, then BINFLOW_LOG_LEVEL and BINFLOW_SOURCE
// environment variables override the file's values. Unset fields keep their
// defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("BINFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BINFLOW_SOURCE"); v != "" {
		cfg.Source.Kind = v
	}

	return cfg, nil
}

// Policy converts the file thresholds into a binflow.Policy and validates
// it. All validation problems are reported together.
func (c *Config) Policy() (binflow.Policy, error) {
	policy := binflow.Policy{
		MinEntries:  c.MinEntries,
		MaxEntries:  c.MaxEntries,
		MaxBinCount: c.MaxBinCount,
	}

	var err error
	if c.MinSize != "" {
		if policy.MinSize, err = ParseDataSize(c.MinSize); err != nil {
			return binflow.Policy{}, fmt.Errorf("min_size: %w", err)
		}
	}
	if c.MaxSize != "" {
		if policy.MaxSize, err = ParseDataSize(c.MaxSize); err != nil {
			return binflow.Policy{}, fmt.Errorf("max_size: %w", err)
		}
	}
	if c.MaxBinAge != "" {
		if policy.MaxBinAge, err = time.ParseDuration(c.MaxBinAge); err != nil {
			return binflow.Policy{}, fmt.Errorf("max_bin_age: %w", err)
		}
	}

	if problems := policy.Validate(); len(problems) > 0 {
		return binflow.Policy{}, fmt.Errorf("invalid policy: %v", problems)
	}
	return policy, nil
}

// YieldDuration returns the configured yield, or zero when unset so the
// runner applies its default.
func (c *Config) YieldDuration() (time.Duration, error) {
	if c.Yield == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Yield)
	if err != nil {
		return 0, fmt.Errorf("yield: %w", err)
	}
	return d, nil
}
