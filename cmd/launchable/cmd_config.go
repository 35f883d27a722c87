package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dan-v/launchable/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long: `Manage launchable configuration files.

Configuration is loaded from multiple sources in order of precedence:
1. Command line flags
2. Environment variables (LAUNCHABLE_*)
3. Configuration file
4. Default values

The configuration file is searched in:
- Current directory (launchable.yaml)
- ~/.config/launchable/launchable.yaml (XDG config home)
- /etc/launchable/launchable.yaml (system-wide)`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Create a new configuration file with default values.

This command creates a launchable.yaml file in the user's config directory
(~/.config/launchable/) with all available configuration options and their
default values. Edit it to set your account, host and job limits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigInit(cmd)
	},
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the current configuration values.

This command shows the merged configuration from all sources
(defaults, config file and environment variables).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd)
	},
}

func init() {
	// Add subcommands to config
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	// Add config init specific flags
	configInitCmd.Flags().StringP("output", "o", "", "Output file path (defaults to XDG config directory)")
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite existing config file")

	// Add config show specific flags
	configShowCmd.Flags().StringP("format", "", "yaml", "Output format (yaml, json, table)")
}

// runConfigInit implements the config init command
func runConfigInit(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	outputPath, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	// Use default config path if not specified
	if outputPath == "" {
		outputPath = config.GetDefaultConfigPath()
	}

	// Check if file already exists
	if _, err := os.Stat(outputPath); err == nil && !force {
		fmt.Fprintf(out, "Configuration file already exists at: %s\n\n", outputPath)
		fmt.Fprintln(out, "What would you like to do?")
		fmt.Fprintln(out, "1. View current config (recommended)")
		fmt.Fprintln(out, "2. Overwrite with fresh defaults")
		fmt.Fprintln(out, "3. Cancel")
		fmt.Fprint(out, "\nChoose an option [1/2/3]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.TrimSpace(response) {
		case "1", "":
			fmt.Fprintln(out, "\nCurrent configuration:")
			fmt.Fprintln(out, "─────────────────────")

			cfg, err := config.LoadCLIConfig(outputPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			fmt.Fprintf(out, "# Configuration loaded from: %s\n\n", outputPath)
			if err := writeYAML(cmd, cfg); err != nil {
				return fmt.Errorf("failed to display config: %w", err)
			}

			fmt.Fprintf(out, "\nTo edit: %s\n", outputPath)
			return nil
		case "2":
			fmt.Fprintln(out, "Overwriting existing config file...")
		case "3":
			fmt.Fprintln(out, "Operation cancelled.")
			return nil
		default:
			fmt.Fprintln(out, "Invalid option. Operation cancelled.")
			return nil
		}
	}

	// Create example config
	if err := config.WriteExampleConfig(outputPath); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	fmt.Fprintf(out, "Configuration file created: %s\n", outputPath)
	fmt.Fprintln(out, "Edit this file to set your scheduler account and login host.")

	return nil
}

// runConfigShow implements the config show command
func runConfigShow(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCLIConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fmt.Fprintf(out, "# Configuration loaded from: %s\n\n", getConfigSource(configPath))

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "yaml":
		return writeYAML(cmd, cfg)
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "table":
		return writeTable(cmd, cfg)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeYAML(cmd *cobra.Command, cfg *config.CLIConfig) error {
	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(cfg)
}

func writeTable(cmd *cobra.Command, cfg *config.CLIConfig) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"job.workers", fmt.Sprint(cfg.Job.Workers)},
		{"job.account", cfg.Job.Account},
		{"job.wall_time", cfg.Job.WallTime},
		{"job.mem_per_cpu", cfg.Job.MemPerCPU},
		{"job.env_script", cfg.Job.EnvScript},
		{"ports.local", fmt.Sprint(cfg.Ports.Local)},
		{"ports.tunnel", portLabel(cfg.Ports.Tunnel)},
		{"ports.notebook", portLabel(cfg.Ports.Notebook)},
		{"remote.host", cfg.Remote.Host},
		{"remote.user", cfg.Remote.User},
		{"remote.identity_file", cfg.Remote.IdentityFile},
		{"remote.known_hosts", cfg.Remote.KnownHosts},
		{"remote.insecure_ignore_host_key", fmt.Sprint(cfg.Remote.InsecureIgnoreHostKey)},
		{"remote.shell", cfg.Remote.Shell},
		{"timeouts.connect", cfg.Timeouts.Connect.String()},
		{"timeouts.barrier", cfg.Timeouts.Barrier.String()},
		{"timeouts.status", cfg.Timeouts.Status.String()},
		{"timeouts.drain", cfg.Timeouts.Drain.String()},
		{"templates.dir", cfg.Templates.Dir},
	}
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func portLabel(port int) string {
	if port == 0 {
		return "random"
	}
	return fmt.Sprint(port)
}

// getConfigSource returns a user-friendly description of where config is loaded from
func getConfigSource(configPath string) string {
	if configPath != "" {
		// Explicit config file specified
		return configPath
	}

	// Check if config file exists in standard locations
	if foundPath, err := config.FindConfigFile(); err == nil {
		return foundPath
	}

	// No config file found, using defaults
	return "defaults (no config file found)"
}
