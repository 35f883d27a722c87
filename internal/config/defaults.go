package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dan-v/launchable/pkg/shared"
)

// DefaultCLIConfig returns a CLIConfig with all default values
func DefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Job: JobConfig{
			Workers:   shared.DefaultWorkers,
			Account:   shared.DefaultAccount,
			WallTime:  shared.DefaultWallTime,
			MemPerCPU: shared.DefaultMemPerCPU,
		},
		Ports: PortsConfig{
			Local: shared.DefaultLocalPort,
			// Tunnel and Notebook stay zero: sampled per launch
		},
		Remote: RemoteConfig{
			Host:  shared.DefaultHost,
			Shell: shared.DefaultShell,
		},
		Timeouts: TimeoutsConfig{
			Connect: shared.DefaultConnectTimeout,
			Barrier: shared.DefaultBarrierTimeout,
			Status:  shared.DefaultStatusTimeout,
			Drain:   shared.DefaultDrainTimeout,
		},
	}
}

// ValidateCLIConfig validates a CLIConfig and returns any errors
func ValidateCLIConfig(cfg *CLIConfig) []error {
	var errors []error

	if cfg.Job.Workers < 1 {
		errors = append(errors, &ConfigError{
			Field:   "job.workers",
			Value:   cfg.Job.Workers,
			Message: "worker count must be a positive integer",
		})
	}
	if strings.TrimSpace(cfg.Job.Account) == "" {
		errors = append(errors, &ConfigError{
			Field:   "job.account",
			Value:   cfg.Job.Account,
			Message: "scheduler account cannot be empty",
		})
	}
	if strings.TrimSpace(cfg.Job.WallTime) == "" {
		errors = append(errors, &ConfigError{
			Field:   "job.wall_time",
			Value:   cfg.Job.WallTime,
			Message: "wall time cannot be empty",
		})
	}

	if cfg.Ports.Local < 1 || cfg.Ports.Local > 65535 {
		errors = append(errors, &ConfigError{
			Field:   "ports.local",
			Value:   cfg.Ports.Local,
			Message: "port must be between 1 and 65535",
		})
	} else if cfg.Ports.Local < 1024 {
		errors = append(errors, &ConfigError{
			Field:   "ports.local",
			Value:   cfg.Ports.Local,
			Message: "ports below 1024 require root privileges",
		})
	}

	// Zero means "pick one at launch"
	for _, p := range []struct {
		field string
		value int
	}{
		{"ports.tunnel", cfg.Ports.Tunnel},
		{"ports.notebook", cfg.Ports.Notebook},
	} {
		if p.value != 0 && (p.value < shared.EphemeralPortMin || p.value > shared.EphemeralPortMax) {
			errors = append(errors, &ConfigError{
				Field:   p.field,
				Value:   p.value,
				Message: fmt.Sprintf("port must be in the ephemeral range %d-%d", shared.EphemeralPortMin, shared.EphemeralPortMax),
			})
		}
	}
	if cfg.Ports.Tunnel != 0 && cfg.Ports.Tunnel == cfg.Ports.Notebook {
		errors = append(errors, &ConfigError{
			Field:   "ports.notebook",
			Value:   cfg.Ports.Notebook,
			Message: "notebook port must differ from the tunnel port",
		})
	}

	if strings.TrimSpace(cfg.Remote.Host) == "" {
		errors = append(errors, &ConfigError{
			Field:   "remote.host",
			Value:   cfg.Remote.Host,
			Message: "remote host cannot be empty",
		})
	} else if strings.ContainsAny(cfg.Remote.Host, " \t\n") {
		errors = append(errors, &ConfigError{
			Field:   "remote.host",
			Value:   cfg.Remote.Host,
			Message: "remote host cannot contain whitespace",
		})
	}
	if strings.TrimSpace(cfg.Remote.Shell) == "" {
		errors = append(errors, &ConfigError{
			Field:   "remote.shell",
			Value:   cfg.Remote.Shell,
			Message: "remote shell command cannot be empty",
		})
	}

	for _, t := range []struct {
		field string
		value time.Duration
	}{
		{"timeouts.connect", cfg.Timeouts.Connect},
		{"timeouts.barrier", cfg.Timeouts.Barrier},
		{"timeouts.status", cfg.Timeouts.Status},
		{"timeouts.drain", cfg.Timeouts.Drain},
	} {
		if t.value <= 0 {
			errors = append(errors, &ConfigError{
				Field:   t.field,
				Value:   t.value,
				Message: "timeout must be positive",
			})
		}
	}

	return errors
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
