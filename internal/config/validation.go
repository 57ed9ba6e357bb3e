package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for semantic errors.
func Validate(cfg Config) error {
	var errs []string

	if !oneOf(cfg.Snapshots.Policy, "", "compare", "update") {
		errs = append(errs, "snapshots.policy must be one of compare|update or unset")
	}
	if cfg.Executor.Executable == "" {
		errs = append(errs, "executor.executable must not be empty")
	}
	if cfg.Executor.TimeoutSeconds < 0 {
		errs = append(errs, "executor.timeout_seconds cannot be negative")
	}
	if cfg.Executor.MaxOutputMB <= 0 {
		errs = append(errs, "executor.max_output_mb must be > 0")
	}
	if cfg.Setup.TimeoutSeconds <= 0 {
		errs = append(errs, "setup.timeout_seconds must be > 0")
	}
	if cfg.Setup.PollMillis <= 0 {
		errs = append(errs, "setup.poll_millis must be > 0")
	}
	if cfg.Setup.StaleMinutes <= 0 {
		errs = append(errs, "setup.stale_minutes must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
