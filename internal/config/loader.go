package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ConfigPath names the YAML config file. Empty means no file.
	ConfigPath string

	// FlagOverrides are highest-priority overrides from CLI flags,
	// keyed by dot-notated config path.
	FlagOverrides map[string]any
}

// envBinding maps one environment variable onto a config key.
type envBinding struct {
	Env string
	Key string

	// Transform rewrites the raw value before it is applied; nil keeps
	// the string as-is.
	Transform func(string) any
}

// Environment overrides. SNAPSHOTS, SNAPSHOT_MODE, and DEBUG follow the
// conventions of the workflow platform's own test tooling; the FLOWCHECK_*
// names are this harness's own surface.
var envBindings = []envBinding{
	{Env: "SNAPSHOTS", Key: "snapshots.policy"},
	{Env: "SNAPSHOT_MODE", Key: "snapshots.deep", Transform: func(v string) any {
		return strings.EqualFold(v, "deep")
	}},
	{Env: "DEBUG", Key: "executor.debug", Transform: func(v string) any {
		return truthy(v)
	}},
	{Env: "FLOWCHECK_EXECUTABLE", Key: "executor.executable"},
	{Env: "FLOWCHECK_ENCRYPTION_KEY", Key: "executor.encryption_key"},
	{Env: "FLOWCHECK_DB", Key: "history.database_path"},
	{Env: "FLOWCHECK_LOG_LEVEL", Key: "log_level"},
}

// Load returns the effective configuration after applying precedence:
// defaults < config file < environment < flags.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeConfigFile(v, opts.ConfigPath); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(v)
	for k, val := range opts.FlagOverrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with built-in defaults.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("executor.executable", def.Executor.Executable)
	v.SetDefault("executor.encryption_key", def.Executor.EncryptionKey)
	v.SetDefault("executor.timeout_seconds", def.Executor.TimeoutSeconds)
	v.SetDefault("executor.max_output_mb", def.Executor.MaxOutputMB)
	v.SetDefault("executor.transient_patterns", def.Executor.TransientPatterns)
	v.SetDefault("executor.debug", def.Executor.Debug)

	v.SetDefault("normalize.volatile_fields", def.Normalize.VolatileFields)

	v.SetDefault("snapshots.policy", def.Snapshots.Policy)
	v.SetDefault("snapshots.deep", def.Snapshots.Deep)
	v.SetDefault("snapshots.dir", def.Snapshots.Dir)

	v.SetDefault("setup.command", def.Setup.Command)
	v.SetDefault("setup.dir", def.Setup.Dir)
	v.SetDefault("setup.timeout_seconds", def.Setup.TimeoutSeconds)
	v.SetDefault("setup.poll_millis", def.Setup.PollMillis)
	v.SetDefault("setup.stale_minutes", def.Setup.StaleMinutes)

	v.SetDefault("history.database_path", def.History.DatabasePath)

	v.SetDefault("rules_file", def.RulesFile)
	v.SetDefault("log_level", def.LogLevel)
}

// mergeConfigFile merges the YAML config file if it exists.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(v *viper.Viper) {
	for _, binding := range envBindings {
		raw, set := os.LookupEnv(binding.Env)
		if !set {
			continue
		}
		if binding.Transform != nil {
			v.Set(binding.Key, binding.Transform(raw))
			continue
		}
		v.Set(binding.Key, raw)
	}
}

// truthy interprets environment flag values: empty, "0", and "false" are
// off, anything else is on.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
