// Package config resolves effective settings from defaults, an optional
// YAML config file, environment variables, and CLI flags, in that order of
// precedence.
package config

import (
	"time"

	"github.com/calvw/flowcheck/internal/executor"
	"github.com/calvw/flowcheck/internal/normalize"
)

// Config is the effective harness configuration.
type Config struct {
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Setup     SetupConfig     `mapstructure:"setup"`
	History   HistoryConfig   `mapstructure:"history"`

	// RulesFile points to an optional YAML node-rule override file.
	RulesFile string `mapstructure:"rules_file"`

	LogLevel string `mapstructure:"log_level"`
}

// ExecutorConfig controls the external workflow CLI invocation.
type ExecutorConfig struct {
	Executable        string   `mapstructure:"executable"`
	EncryptionKey     string   `mapstructure:"encryption_key"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	MaxOutputMB       int      `mapstructure:"max_output_mb"`
	TransientPatterns []string `mapstructure:"transient_patterns"`
	Debug             bool     `mapstructure:"debug"`
}

// Timeout returns the per-execution deadline; zero means none.
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NormalizeConfig controls trace normalization.
type NormalizeConfig struct {
	VolatileFields []string `mapstructure:"volatile_fields"`
}

// SnapshotsConfig controls snapshot handling.
type SnapshotsConfig struct {
	// Policy is "compare", "update", or empty for disabled.
	Policy string `mapstructure:"policy"`

	// Deep disables shallow collapsing of nested payload values.
	Deep bool `mapstructure:"deep"`

	Dir string `mapstructure:"dir"`
}

// SetupConfig controls the one-time session setup barrier.
type SetupConfig struct {
	// Command is the shell command run once per session; empty disables
	// the barrier.
	Command        string `mapstructure:"command"`
	Dir            string `mapstructure:"dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PollMillis     int    `mapstructure:"poll_millis"`
	StaleMinutes   int    `mapstructure:"stale_minutes"`
}

// HistoryConfig controls the run ledger.
type HistoryConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Executor: ExecutorConfig{
			Executable:        "n8n",
			MaxOutputMB:       10,
			TransientPatterns: executor.DefaultTransientPatterns,
		},
		Normalize: NormalizeConfig{
			VolatileFields: normalize.DefaultVolatileFields,
		},
		Snapshots: SnapshotsConfig{
			Dir: "snapshots",
		},
		Setup: SetupConfig{
			Dir:            ".flowcheck",
			TimeoutSeconds: 60,
			PollMillis:     100,
			StaleMinutes:   60,
		},
		History: HistoryConfig{
			DatabasePath: "flowcheck.db",
		},
		LogLevel: "info",
	}
}
