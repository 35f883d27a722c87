package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const configName = "launchable"

// LoadCLIConfig loads configuration from files, environment, and returns a merged config
func LoadCLIConfig(configPath string) (*CLIConfig, error) {
	cfg := DefaultCLIConfig()

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search in XDG-compliant locations
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, configName))
		v.AddConfigPath("/etc/" + configName)

		for _, dir := range xdg.ConfigDirs {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
	}

	v.SetEnvPrefix("LAUNCHABLE")
	v.AutomaticEnv()

	// Nested keys are only visible to AutomaticEnv once bound
	v.BindEnv("job.workers", "LAUNCHABLE_WORKERS")
	v.BindEnv("job.account", "LAUNCHABLE_ACCOUNT")
	v.BindEnv("ports.local", "LAUNCHABLE_PORT")
	v.BindEnv("ports.tunnel", "LAUNCHABLE_TUNNEL_PORT")
	v.BindEnv("ports.notebook", "LAUNCHABLE_NB_PORT")
	v.BindEnv("remote.host", "LAUNCHABLE_HOST")
	v.BindEnv("remote.user", "LAUNCHABLE_USER")
	v.BindEnv("remote.identity_file", "LAUNCHABLE_IDENTITY")
	v.BindEnv("timeouts.status", "LAUNCHABLE_STATUS_TIMEOUT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return cfg, nil
}

// WriteExampleConfig creates an example configuration file
func WriteExampleConfig(filePath string) error {
	exampleConfig := `# launchable configuration file
# All available options with their default values

# Batch job values substituted into the scheduler scripts
job:
  workers: 4                    # --ntasks; rank 0 runs the notebook, rank 1 the controller, the rest engines
  account: "nn9279k"            # scheduler account
  wall_time: "00:15:00"         # job time limit
  mem_per_cpu: "100M"           # memory per CPU
  env_script: ""                # optional script sourced on the compute node before starting the notebook

# Ports
ports:
  local: 9999                   # local port opened in the browser
  tunnel: 0                     # login-node port the job tunnels back to, 49152-65535 (0 = random)
  notebook: 0                   # notebook port on the compute node, 49152-65535 (0 = random)

# Remote host (an ~/.ssh/config alias or hostname)
remote:
  host: "kerbin"
  user: ""                      # defaults to the ssh config User, then the local user
  identity_file: ""             # defaults to ssh config IdentityFile and ~/.ssh/id_*
  known_hosts: ""               # defaults to ~/.ssh/known_hosts
  insecure_ignore_host_key: false
  shell: "bash"

# Wait budgets
timeouts:
  connect: 30s                  # SSH dial and handshake
  barrier: 2m                   # each setup/scripts synchronization barrier
  status: 60s                   # wait for AOK or FAILED after submission
  drain: 2m                     # wait for the scheduler log after FAILED

# Script template overrides (setup.sh.tmpl, scripts.sh.tmpl, run.sh.tmpl)
templates:
  dir: ""
`

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(filePath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}

	return nil
}

// FindConfigFile searches for a config file in XDG-compliant locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		configName + ".yaml",
		configName + ".yml",
		filepath.Join(xdg.ConfigHome, configName, configName+".yaml"),
		filepath.Join(xdg.ConfigHome, configName, configName+".yml"),
		"/etc/" + configName + "/" + configName + ".yaml",
		"/etc/" + configName + "/" + configName + ".yml",
	}

	for _, dir := range xdg.ConfigDirs {
		searchPaths = append(searchPaths,
			filepath.Join(dir, configName, configName+".yaml"),
			filepath.Join(dir, configName, configName+".yml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found in standard locations")
}

// GetDefaultConfigPath returns the default path for creating a new config file
func GetDefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, configName, configName+".yaml")
}
