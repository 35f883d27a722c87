package config

import (
	"time"
)

// CLIConfig represents the complete configuration for the launchable CLI
type CLIConfig struct {
	// Batch job configuration
	Job JobConfig `yaml:"job" json:"job" mapstructure:"job"`

	// Port configuration
	Ports PortsConfig `yaml:"ports" json:"ports" mapstructure:"ports"`

	// Remote host configuration
	Remote RemoteConfig `yaml:"remote" json:"remote" mapstructure:"remote"`

	// Wait budgets
	Timeouts TimeoutsConfig `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`

	// Script template overrides
	Templates TemplatesConfig `yaml:"templates" json:"templates" mapstructure:"templates"`
}

// JobConfig holds the values substituted into the scheduler scripts
type JobConfig struct {
	Workers   int    `yaml:"workers" json:"workers" mapstructure:"workers"`
	Account   string `yaml:"account" json:"account" mapstructure:"account"`
	WallTime  string `yaml:"wall_time" json:"wall_time" mapstructure:"wall_time"`
	MemPerCPU string `yaml:"mem_per_cpu" json:"mem_per_cpu" mapstructure:"mem_per_cpu"`
	EnvScript string `yaml:"env_script" json:"env_script" mapstructure:"env_script"`
}

// PortsConfig holds the local and remote ports. Zero tunnel or notebook
// ports are sampled from the ephemeral range at launch.
type PortsConfig struct {
	Local    int `yaml:"local" json:"local" mapstructure:"local"`
	Tunnel   int `yaml:"tunnel" json:"tunnel" mapstructure:"tunnel"`
	Notebook int `yaml:"notebook" json:"notebook" mapstructure:"notebook"`
}

// RemoteConfig holds SSH connection settings
type RemoteConfig struct {
	Host                  string `yaml:"host" json:"host" mapstructure:"host"`
	User                  string `yaml:"user" json:"user" mapstructure:"user"`
	IdentityFile          string `yaml:"identity_file" json:"identity_file" mapstructure:"identity_file"`
	KnownHosts            string `yaml:"known_hosts" json:"known_hosts" mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key" json:"insecure_ignore_host_key" mapstructure:"insecure_ignore_host_key"`
	Shell                 string `yaml:"shell" json:"shell" mapstructure:"shell"`
}

// TimeoutsConfig holds the wait budgets of the blocking session operations
type TimeoutsConfig struct {
	Connect time.Duration `yaml:"connect" json:"connect" mapstructure:"connect"`
	Barrier time.Duration `yaml:"barrier" json:"barrier" mapstructure:"barrier"`
	Status  time.Duration `yaml:"status" json:"status" mapstructure:"status"`
	Drain   time.Duration `yaml:"drain" json:"drain" mapstructure:"drain"`
}

// TemplatesConfig points at an optional directory of script template overrides
type TemplatesConfig struct {
	Dir string `yaml:"dir" json:"dir" mapstructure:"dir"`
}

// Merge merges another CLIConfig into this one, with the other taking precedence
func (c *CLIConfig) Merge(other *CLIConfig) {
	if other.Job.Workers != 0 {
		c.Job.Workers = other.Job.Workers
	}
	if other.Job.Account != "" {
		c.Job.Account = other.Job.Account
	}
	if other.Job.WallTime != "" {
		c.Job.WallTime = other.Job.WallTime
	}
	if other.Job.MemPerCPU != "" {
		c.Job.MemPerCPU = other.Job.MemPerCPU
	}
	if other.Job.EnvScript != "" {
		c.Job.EnvScript = other.Job.EnvScript
	}

	if other.Ports.Local != 0 {
		c.Ports.Local = other.Ports.Local
	}
	if other.Ports.Tunnel != 0 {
		c.Ports.Tunnel = other.Ports.Tunnel
	}
	if other.Ports.Notebook != 0 {
		c.Ports.Notebook = other.Ports.Notebook
	}

	if other.Remote.Host != "" {
		c.Remote.Host = other.Remote.Host
	}
	if other.Remote.User != "" {
		c.Remote.User = other.Remote.User
	}
	if other.Remote.IdentityFile != "" {
		c.Remote.IdentityFile = other.Remote.IdentityFile
	}
	if other.Remote.KnownHosts != "" {
		c.Remote.KnownHosts = other.Remote.KnownHosts
	}
	if other.Remote.InsecureIgnoreHostKey {
		c.Remote.InsecureIgnoreHostKey = true
	}
	if other.Remote.Shell != "" {
		c.Remote.Shell = other.Remote.Shell
	}

	if other.Timeouts.Connect != 0 {
		c.Timeouts.Connect = other.Timeouts.Connect
	}
	if other.Timeouts.Barrier != 0 {
		c.Timeouts.Barrier = other.Timeouts.Barrier
	}
	if other.Timeouts.Status != 0 {
		c.Timeouts.Status = other.Timeouts.Status
	}
	if other.Timeouts.Drain != 0 {
		c.Timeouts.Drain = other.Timeouts.Drain
	}

	if other.Templates.Dir != "" {
		c.Templates.Dir = other.Templates.Dir
	}
}
