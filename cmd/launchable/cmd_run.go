package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dan-v/launchable/internal"
	"github.com/dan-v/launchable/internal/config"
	"github.com/dan-v/launchable/internal/dashboard"
	"github.com/dan-v/launchable/internal/manager"
	"github.com/dan-v/launchable/internal/metrics"
	"github.com/dan-v/launchable/internal/templates"
	"github.com/dan-v/launchable/pkg/shared"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"launch"},
	Short:   "Submit the notebook job and open it in the browser",
	Long: `Submit the notebook job and open it in the browser.

This command:
- Connects to the login node over SSH and forwards --port to the tunnel port
- Uploads the batch and run scripts into a fresh temporary directory
- Submits the job and waits for it to report AOK or FAILED
- Opens the notebook in your browser and streams the session output

The session runs until the job ends or you stop it with Ctrl+C.
On failure the scheduler log is printed and the exit status is 1.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLaunch(cmd)
	},
}

func init() {
	addLaunchFlags(runCmd)

	// Add run-specific flags
	runCmd.Flags().String("user", "", "Remote user (defaults to ssh config, then the local user)")
	runCmd.Flags().String("identity", "", "Private key file")
	runCmd.Flags().Bool("insecure-ignore-host-key", false, "Skip known_hosts verification")
	runCmd.Flags().Duration("status-timeout", shared.DefaultStatusTimeout, "How long to wait for AOK or FAILED after submission")
	runCmd.Flags().Bool("no-browser", false, "Do not open the notebook in a browser")
	runCmd.Flags().BoolP("verbose", "v", false, "Echo the raw remote session to stderr and enable debug logging")
	runCmd.Flags().String("metrics", "", "Serve metrics on this address (e.g. :6060)")
	runCmd.Flags().String("dashboard", "", "Serve a live status page on this address (e.g. localhost:7070)")
}

// addLaunchFlags registers the flags shared by run and render
func addLaunchFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("n", "n", shared.DefaultWorkers, "Number of SLURM tasks (notebook, controller and engines)")
	cmd.Flags().IntP("port", "p", shared.DefaultLocalPort, "Local port for the notebook")
	cmd.Flags().Int("tunnel-port", 0, "Login node tunnel port in 49152-65535 (0 = random)")
	cmd.Flags().Int("nb-port", 0, "Notebook port on the compute node in 49152-65535 (0 = random)")
	cmd.Flags().String("host", shared.DefaultHost, "Login node host or ssh config alias")
	cmd.Flags().String("templates", "", "Directory with setup/scripts/run .sh.tmpl overrides")
}

// applyLaunchFlags copies explicitly set flags over the loaded configuration
func applyLaunchFlags(cmd *cobra.Command, cfg *config.CLIConfig) {
	flags := cmd.Flags()

	if v, _ := flags.GetInt("n"); flags.Changed("n") {
		cfg.Job.Workers = v
	}
	if v, _ := flags.GetInt("port"); flags.Changed("port") {
		cfg.Ports.Local = v
	}
	if v, _ := flags.GetInt("tunnel-port"); flags.Changed("tunnel-port") {
		cfg.Ports.Tunnel = v
	}
	if v, _ := flags.GetInt("nb-port"); flags.Changed("nb-port") {
		cfg.Ports.Notebook = v
	}
	if v, _ := flags.GetString("host"); flags.Changed("host") {
		cfg.Remote.Host = v
	}
	if v, _ := flags.GetString("templates"); flags.Changed("templates") {
		cfg.Templates.Dir = v
	}

	// Run-only flags are absent on render
	if f := flags.Lookup("user"); f != nil && f.Changed {
		cfg.Remote.User = f.Value.String()
	}
	if f := flags.Lookup("identity"); f != nil && f.Changed {
		cfg.Remote.IdentityFile = f.Value.String()
	}
	if f := flags.Lookup("insecure-ignore-host-key"); f != nil && f.Changed {
		cfg.Remote.InsecureIgnoreHostKey, _ = flags.GetBool("insecure-ignore-host-key")
	}
	if f := flags.Lookup("status-timeout"); f != nil && f.Changed {
		cfg.Timeouts.Status, _ = flags.GetDuration("status-timeout")
	}
}

// loadLaunchConfig loads, overrides, validates and freezes the configuration
func loadLaunchConfig(cmd *cobra.Command) (*config.LaunchConfig, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCLIConfig(configPath)
	if err != nil {
		return nil, shared.WrapError(err, "failed to load configuration")
	}

	applyLaunchFlags(cmd, cfg)

	if errors := config.ValidateCLIConfig(cfg); len(errors) > 0 {
		fmt.Fprintf(os.Stderr, "Configuration validation errors:\n")
		for _, err := range errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", err.Error())
		}
		return nil, fmt.Errorf("configuration validation failed")
	}

	return cfg.ToLaunchConfig(config.NewPortSource())
}

// renderScripts renders all phase scripts before anything touches the network
func renderScripts(lc *config.LaunchConfig) ([]templates.Script, error) {
	store, err := templates.Load(lc.TemplatesDir())
	if err != nil {
		return nil, shared.WrapError(err, "failed to load templates")
	}
	scripts, err := store.RenderAll(lc)
	if err != nil {
		return nil, shared.WrapError(err, "failed to render scripts")
	}
	return scripts, nil
}

func runLaunch(cmd *cobra.Command) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		shared.SetLogLevel(shared.LevelDebug)
	}

	lc, err := loadLaunchConfig(cmd)
	if err != nil {
		return err
	}

	scripts, err := renderScripts(lc)
	if err != nil {
		return err
	}

	shared.LogInfof("Launching %d workers on %s (tunnel port %d, notebook port %d)",
		lc.Workers(), lc.Host(), lc.TunnelPort(), lc.NotebookPort())

	// Verbose mode already mirrors the stream to stderr
	var echo io.Writer
	var output io.Writer = os.Stdout
	if verbose {
		echo = os.Stderr
		output = io.Discard
	}

	dashboardAddr, _ := cmd.Flags().GetString("dashboard")
	var tail *dashboard.OutputTail
	if dashboardAddr != "" {
		tail = dashboard.NewOutputTail(shared.DashboardOutputLines)
		if echo != nil {
			echo = io.MultiWriter(echo, tail)
		} else {
			echo = tail
		}
	}

	launcher, err := internal.NewLauncher(lc, scripts, internal.SessionDialer(lc, echo))
	if err != nil {
		return err
	}

	// Create context with interrupt handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if addr, _ := cmd.Flags().GetString("metrics"); addr != "" {
		go func() {
			log.Printf("📊 Metrics available at http://%s/metrics and /debug/vars", addr)
			if err := metrics.StartMetricsServer(ctx, addr); err != nil {
				log.Printf("❌ Metrics server error: %v", err)
			}
		}()
	}

	noBrowser, _ := cmd.Flags().GetBool("no-browser")
	m := manager.New(launcher,
		manager.WithOutput(output),
		manager.WithOnReady(func(s *manager.Session) {
			shared.LogSuccessf("Notebook for job %d is at %s", s.JobID(), s.URL)
			if noBrowser {
				return
			}
			time.Sleep(shared.BrowserOpenDelay)
			openBrowser(s.URL)
		}),
	)

	if dashboardAddr != "" {
		go func() {
			if err := dashboard.Serve(ctx, dashboardAddr, dashboard.NewStatusCollector(m, tail)); err != nil {
				shared.LogErrorf("Status page error: %v", err)
			}
		}()
	}

	if err := m.Start(ctx); err != nil {
		reportLaunchError(os.Stderr, err)
		return err
	}
	return nil
}

// reportLaunchError prints what the operator needs to investigate by hand
func reportLaunchError(w io.Writer, err error) {
	var launchErr *internal.LaunchError
	if !errors.As(err, &launchErr) {
		return
	}

	fmt.Fprintf(w, "\nLaunch stopped in state %s\n", launchErr.State)
	if launchErr.Result != nil && launchErr.Result.JobID > 0 {
		fmt.Fprintf(w, "Job id: %d\n", launchErr.Result.JobID)
	}
	if launchErr.Result != nil && launchErr.Result.DiagnosticLog != "" {
		fmt.Fprintf(w, "\n── scheduler log ──\n%s", launchErr.Result.DiagnosticLog)
		if !strings.HasSuffix(launchErr.Result.DiagnosticLog, "\n") {
			fmt.Fprintln(w)
		}
	} else if launchErr.LastOutput != "" {
		fmt.Fprintf(w, "\n── last remote output ──\n%s\n", strings.TrimRight(launchErr.LastOutput, "\r\n"))
	}
	fmt.Fprintln(w)
}

// openBrowser opens the specified URL in the user's default browser
func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}

	args = append(args, url)

	if err := exec.Command(cmd, args...).Start(); err != nil {
		log.Printf("🌐 Unable to auto-open browser: %v", err)
		log.Printf("🌐 Please manually open: %s", url)
	} else {
		log.Printf("🚀 Notebook opening in your browser...")
	}
}
