package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/dan-v/launchable/internal"
	"github.com/dan-v/launchable/internal/session"
	"github.com/dan-v/launchable/internal/templates"
	"github.com/dan-v/launchable/pkg/shared"
)

// executeArgs runs the root command in-process and returns its stdout
func executeArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores defaults since cobra commands are package globals
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// writeConfig creates a config file from the example and returns its path
func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "launchable.yaml")
	if _, err := executeArgs(t, "config", "init", "--output", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := executeArgs(t, "version")
	if err != nil {
		t.Fatalf("Version command failed: %v", err)
	}
	if !strings.Contains(out, "launchable v"+shared.Version) {
		t.Errorf("Version output should contain version, got: %s", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := writeConfig(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file was not created at %s: %v", path, err)
	}

	tests := []struct {
		format string
		want   []string
	}{
		{"yaml", []string{"job:", "account: nn9279k", "host: kerbin"}},
		{"json", []string{`"workers": 4`, `"local": 9999`}},
		{"table", []string{"KEY", "ports.tunnel", "random", "remote.host"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := executeArgs(t, "config", "show", "--config", path, "--format", tt.format)
			if err != nil {
				t.Fatalf("config show failed: %v", err)
			}
			if !strings.Contains(out, "# Configuration loaded from: "+path) {
				t.Errorf("Expected config source line, got: %s", out)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("Expected %q in output, got: %s", want, out)
				}
			}
		})
	}

	if _, err := executeArgs(t, "config", "show", "--config", path, "--format", "xml"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestConfigInitExistingFile(t *testing.T) {
	path := writeConfig(t)

	// Empty stdin selects the default option: show the current config
	out, err := executeArgs(t, "config", "init", "--output", path)
	if err != nil {
		t.Fatalf("config init on existing file failed: %v", err)
	}
	if !strings.Contains(out, "already exists") || !strings.Contains(out, "Current configuration") {
		t.Errorf("Expected existing-file prompt and current config, got: %s", out)
	}

	out, err = executeArgs(t, "config", "init", "--output", path, "--force")
	if err != nil {
		t.Fatalf("config init --force failed: %v", err)
	}
	if !strings.Contains(out, "Configuration file created") {
		t.Errorf("Expected overwrite, got: %s", out)
	}
}

func TestRenderRaw(t *testing.T) {
	path := writeConfig(t)

	out, err := executeArgs(t, "render", "--config", path, "--raw",
		"--tunnel-port", "50001", "--nb-port", "50002", "-n", "6")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	for _, want := range []string{
		"# ---- setup ----",
		"# ---- scripts ----",
		"# ---- run ----",
		"TUNNEL_PORT=50001",
		"NB_PORT=50002",
		"#SBATCH --ntasks=6",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in rendered scripts, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{{") {
		t.Errorf("Rendered scripts contain unresolved placeholders:\n%s", out)
	}
}

func TestRenderYAML(t *testing.T) {
	path := writeConfig(t)

	out, err := executeArgs(t, "render", "--config", path,
		"--host", "saga", "--port", "8888", "--tunnel-port", "50001", "--nb-port", "50002")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	var doc renderOutput
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("render output is not YAML: %v\n%s", err, out)
	}
	if doc.Host != "saga" || doc.LocalPort != 8888 || doc.TunnelPort != 50001 || doc.NotebookPort != 50002 {
		t.Errorf("Unexpected render header: %+v", doc)
	}
	if len(doc.Scripts) != len(templates.Names) {
		t.Fatalf("Expected %d scripts, got %d", len(templates.Names), len(doc.Scripts))
	}
	for i, name := range templates.Names {
		if doc.Scripts[i].Name != name {
			t.Errorf("Script %d: expected %s, got %s", i, name, doc.Scripts[i].Name)
		}
	}
}

func TestRenderRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t)

	_, err := executeArgs(t, "render", "--config", path, "-n", "0")
	if err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
		t.Errorf("Expected validation failure for zero workers, got %v", err)
	}

	_, err = executeArgs(t, "render", "--config", path, "--tunnel-port", "50001", "--nb-port", "50001")
	if err == nil {
		t.Error("Expected error for equal tunnel and notebook ports")
	}

	_, err = executeArgs(t, "render", "--config", path, "--nb-port", "8080")
	if err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
		t.Errorf("Expected validation failure for non-ephemeral notebook port, got %v", err)
	}
}

func TestRenderTemplateOverride(t *testing.T) {
	path := writeConfig(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run.sh.tmpl"), []byte("echo custom {{.Workers}}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := executeArgs(t, "render", "--config", path, "--raw", "--templates", dir, "-n", "3")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(out, "echo custom 3") {
		t.Errorf("Expected override in output, got:\n%s", out)
	}
}

func TestRenderWrapsTemplateErrors(t *testing.T) {
	path := writeConfig(t)

	tests := []struct {
		name     string
		template string
		prefix   string
		sentinel error
	}{
		{"malformed", "{{.Workers", "failed to load templates: failed to parse run template: ", nil},
		{"unknown field", "echo {{.Nope}}\n", "failed to render scripts: ", templates.ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "run.sh.tmpl"), []byte(tt.template), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := executeArgs(t, "render", "--config", path, "--templates", dir)
			if err == nil {
				t.Fatal("Expected render to fail")
			}
			if !strings.HasPrefix(err.Error(), tt.prefix) {
				t.Errorf("Expected error starting with %q, got %v", tt.prefix, err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("Expected %v in chain, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"port", fmt.Errorf("%w: %w", session.ErrConnect, shared.ErrPortInUse), "Local port error"},
		{"connect", fmt.Errorf("%w: dial tcp: refused", internal.ErrConnect), "SSH error"},
		{"auth", errors.New("ssh: unable to authenticate, attempted methods [none publickey]"), "SSH error"},
		{"template", fmt.Errorf("%w: run", templates.ErrMissingField), "Template error"},
		{"config", errors.New("configuration validation failed"), "Configuration error"},
		{"timeout", fmt.Errorf("%w: no status", internal.ErrTimedOut), "squeue"},
		{"protocol", fmt.Errorf("%w: bad id", internal.ErrProtocol), "--verbose"},
		{"failed", fmt.Errorf("%w: job 7", internal.ErrJobFailed), "Job failed"},
		{"lost", fmt.Errorf("%w: eof", internal.ErrTransportLost), "Connection lost"},
		{"other", errors.New("boom"), "Command failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := failureMessage(tt.err)
			if !strings.Contains(msg, tt.want) {
				t.Errorf("Expected %q in message, got: %s", tt.want, msg)
			}
			if !strings.Contains(msg, tt.err.Error()) {
				t.Errorf("Expected original error in message, got: %s", msg)
			}
		})
	}
}

func TestReportLaunchError(t *testing.T) {
	var buf bytes.Buffer
	err := fmt.Errorf("failed to launch session: %w", &internal.LaunchError{
		State:  internal.Failed,
		Result: &shared.JobResult{JobID: 4242, Status: shared.JobFailed, DiagnosticLog: "slurmstepd: error: oom"},
		Err:    internal.ErrJobFailed,
	})

	reportLaunchError(&buf, err)

	out := buf.String()
	for _, want := range []string{"Job id: 4242", "scheduler log", "slurmstepd: error: oom\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report, got:\n%s", want, out)
		}
	}

	buf.Reset()
	reportLaunchError(&buf, errors.New("unrelated"))
	if buf.Len() != 0 {
		t.Errorf("Expected no report for non-launch error, got %q", buf.String())
	}
}
