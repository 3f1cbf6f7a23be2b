// Package config provides configuration loading for spectrad.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with hardcoded defaults underneath. Subsystem packages own
// their config types; this package composes and validates them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/spectrad/internal/critic"
	"github.com/fyrsmithlabs/spectrad/internal/logging"
	"github.com/fyrsmithlabs/spectrad/internal/reasoning"
	"github.com/fyrsmithlabs/spectrad/internal/tracker"
	"github.com/fyrsmithlabs/spectrad/internal/workflow"
)

// Config holds the complete spectrad configuration.
type Config struct {
	Logging    logging.Config         `koanf:"logging"`
	Checkpoint CheckpointConfig       `koanf:"checkpoint"`
	Critic     critic.Config          `koanf:"critic"`
	Retry      tracker.RetryPolicy    `koanf:"retry"`
	Reasoning  reasoning.ClientConfig `koanf:"reasoning"`
	Workflow   workflow.Options       `koanf:"workflow"`
	History    HistoryConfig          `koanf:"history"`
	Metrics    MetricsConfig          `koanf:"metrics"`
}

// Backend names accepted in CheckpointConfig.Backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// CheckpointConfig selects and orders the checkpoint backends. The first
// healthy backend in Backends becomes active; the rest are failover
// targets in order.
type CheckpointConfig struct {
	Backends    []string `koanf:"backends"`
	PostgresDSN string   `koanf:"postgres_dsn"`
	SQLitePath  string   `koanf:"sqlite_path"`
}

// HistoryConfig bounds the in-memory case index.
type HistoryConfig struct {
	MaxCases int `koanf:"max_cases"`
}

// MetricsConfig controls the optional Prometheus endpoint. An empty
// address disables the listener.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

func applyDefaults(cfg *Config) {
	def := logging.DefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Format
	}
	if len(cfg.Checkpoint.Backends) == 0 {
		cfg.Checkpoint.Backends = []string{BackendSQLite, BackendMemory}
	}
	if cfg.Checkpoint.SQLitePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Checkpoint.SQLitePath = filepath.Join(home, ".local", "share", "spectrad")
		} else {
			cfg.Checkpoint.SQLitePath = "."
		}
	}
	retry := tracker.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = retry.InitialInterval
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = retry.MaxInterval
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = retry.Multiplier
	}
	reason := reasoning.DefaultClientConfig()
	if cfg.Reasoning.Model == "" {
		cfg.Reasoning.Model = reason.Model
	}
	if cfg.Reasoning.MaxTokens == 0 {
		cfg.Reasoning.MaxTokens = reason.MaxTokens
	}
	if cfg.Reasoning.Timeout == 0 {
		cfg.Reasoning.Timeout = reason.Timeout
	}
	wf := workflow.DefaultOptions()
	if cfg.Workflow.MaxIterations == 0 {
		cfg.Workflow.MaxIterations = wf.MaxIterations
	}
	if cfg.Workflow.MaxPlanIterations == 0 {
		cfg.Workflow.MaxPlanIterations = wf.MaxPlanIterations
	}
}

// Validate checks cross-field constraints the subsystem types cannot see.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	for _, b := range c.Checkpoint.Backends {
		switch b {
		case BackendPostgres, BackendSQLite, BackendMemory:
		default:
			return fmt.Errorf("unknown checkpoint backend %q", b)
		}
		if b == BackendPostgres && c.Checkpoint.PostgresDSN == "" {
			return fmt.Errorf("checkpoint backend %q requires postgres_dsn", b)
		}
	}
	if c.Workflow.MaxIterations < 0 || c.Workflow.MaxPlanIterations < 0 {
		return fmt.Errorf("workflow iteration bounds must be non-negative")
	}
	return nil
}
