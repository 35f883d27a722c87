package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dan-v/launchable/pkg/shared"
)

// executeCliCommand executes the cobra CLI
func executeCliCommand() error {
	return rootCmd.Execute()
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "launchable",
	Short: "Launch a Jupyter notebook as a SLURM job and tunnel it to localhost",
	Long: `launchable logs into a cluster login node over SSH, uploads a batch
script that starts a Jupyter notebook with an ipyparallel cluster, submits it,
and forwards a local port to the notebook once the job is running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  "Print the version information for launchable",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "launchable v%s\n", shared.Version)
	},
}

func init() {
	// Initialize structured logging for CLI
	shared.InitLogger(&shared.LogConfig{
		Level:       shared.LevelInfo,
		Format:      "text", // Human-readable format for CLI
		AddSource:   false,
		ServiceName: "launchable",
	})

	// Add global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")

	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Add commands to root
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(configCmd)
}
