package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dan-v/launchable/pkg/shared"
)

// sequenceSource replays fixed values, repeating the last one
type sequenceSource struct {
	values []int
	calls  int
}

func (s *sequenceSource) Intn(n int) int {
	i := s.calls
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	s.calls++
	return s.values[i] % n
}

func TestDefaultCLIConfig(t *testing.T) {
	cfg := DefaultCLIConfig()

	if cfg.Job.Workers != 4 {
		t.Errorf("Expected default workers 4, got %d", cfg.Job.Workers)
	}
	if cfg.Ports.Local != 9999 {
		t.Errorf("Expected default local port 9999, got %d", cfg.Ports.Local)
	}
	if cfg.Ports.Tunnel != 0 || cfg.Ports.Notebook != 0 {
		t.Errorf("Expected ephemeral ports to be unset by default, got %d/%d", cfg.Ports.Tunnel, cfg.Ports.Notebook)
	}
	if cfg.Remote.Host != "kerbin" {
		t.Errorf("Expected default host kerbin, got %s", cfg.Remote.Host)
	}
	if cfg.Timeouts.Status != 60*time.Second {
		t.Errorf("Expected default status timeout 60s, got %v", cfg.Timeouts.Status)
	}

	if errs := ValidateCLIConfig(cfg); len(errs) > 0 {
		t.Errorf("Expected defaults to validate, got %v", errs)
	}
}

func TestLoadCLIConfig(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := LoadCLIConfig("")
	if err != nil {
		t.Fatalf("Expected no error loading default config, got %v", err)
	}

	if cfg.Remote.Host != "kerbin" {
		t.Errorf("Expected default host kerbin, got %s", cfg.Remote.Host)
	}
	if cfg.Ports.Local != 9999 {
		t.Errorf("Expected default port 9999, got %d", cfg.Ports.Local)
	}
}

func TestLoadCLIConfigWithFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test-config.yaml")

	configContent := `job:
  workers: 8
  account: "acct42"
ports:
  local: 8888
  tunnel: 50001
  notebook: 50002
remote:
  host: "abel"
  user: "alice"
timeouts:
  status: 90s
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := LoadCLIConfig(configFile)
	if err != nil {
		t.Fatalf("Expected no error loading config file, got %v", err)
	}

	if cfg.Job.Workers != 8 {
		t.Errorf("Expected workers 8, got %d", cfg.Job.Workers)
	}
	if cfg.Job.Account != "acct42" {
		t.Errorf("Expected account acct42, got %s", cfg.Job.Account)
	}
	if cfg.Ports.Local != 8888 || cfg.Ports.Tunnel != 50001 || cfg.Ports.Notebook != 50002 {
		t.Errorf("Unexpected ports: %+v", cfg.Ports)
	}
	if cfg.Remote.Host != "abel" || cfg.Remote.User != "alice" {
		t.Errorf("Unexpected remote: %+v", cfg.Remote)
	}
	if cfg.Timeouts.Status != 90*time.Second {
		t.Errorf("Expected status timeout 90s, got %v", cfg.Timeouts.Status)
	}
	// Untouched keys keep their defaults
	if cfg.Timeouts.Barrier != shared.DefaultBarrierTimeout {
		t.Errorf("Expected default barrier timeout, got %v", cfg.Timeouts.Barrier)
	}
}

func TestWriteExampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "launchable.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("WriteExampleConfig failed: %v", err)
	}

	cfg, err := LoadCLIConfig(path)
	if err != nil {
		t.Fatalf("Expected example config to load, got %v", err)
	}
	if errs := ValidateCLIConfig(cfg); len(errs) > 0 {
		t.Errorf("Expected example config to validate, got %v", errs)
	}
	if cfg.Timeouts.Drain != 2*time.Minute {
		t.Errorf("Expected drain timeout 2m, got %v", cfg.Timeouts.Drain)
	}
}

func TestValidateCLIConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CLIConfig)
		field  string
	}{
		{"zero workers", func(c *CLIConfig) { c.Job.Workers = 0 }, "job.workers"},
		{"empty account", func(c *CLIConfig) { c.Job.Account = "" }, "job.account"},
		{"local port out of range", func(c *CLIConfig) { c.Ports.Local = 70000 }, "ports.local"},
		{"privileged local port", func(c *CLIConfig) { c.Ports.Local = 80 }, "ports.local"},
		{"tunnel port too low", func(c *CLIConfig) { c.Ports.Tunnel = 22 }, "ports.tunnel"},
		{"tunnel port below ephemeral range", func(c *CLIConfig) { c.Ports.Tunnel = shared.EphemeralPortMin - 1 }, "ports.tunnel"},
		{"notebook port below ephemeral range", func(c *CLIConfig) { c.Ports.Notebook = 8080 }, "ports.notebook"},
		{"notebook port too high", func(c *CLIConfig) { c.Ports.Notebook = 70000 }, "ports.notebook"},
		{"equal explicit ports", func(c *CLIConfig) { c.Ports.Tunnel, c.Ports.Notebook = 50000, 50000 }, "ports.notebook"},
		{"empty host", func(c *CLIConfig) { c.Remote.Host = "" }, "remote.host"},
		{"host with space", func(c *CLIConfig) { c.Remote.Host = "bad host" }, "remote.host"},
		{"zero status timeout", func(c *CLIConfig) { c.Timeouts.Status = 0 }, "timeouts.status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCLIConfig()
			tt.mutate(cfg)

			errs := ValidateCLIConfig(cfg)
			if len(errs) == 0 {
				t.Fatalf("Expected validation error for %s", tt.field)
			}

			found := false
			for _, err := range errs {
				var cfgErr *ConfigError
				if errors.As(err, &cfgErr) && cfgErr.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error on field %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidateCLIConfigEphemeralBounds(t *testing.T) {
	cfg := DefaultCLIConfig()
	cfg.Ports.Tunnel = shared.EphemeralPortMin
	cfg.Ports.Notebook = shared.EphemeralPortMax

	if errs := ValidateCLIConfig(cfg); len(errs) != 0 {
		t.Errorf("Expected range bounds to be accepted, got %v", errs)
	}
}

func TestSamplePortsDistinctAcrossRuns(t *testing.T) {
	src := NewPortSource()
	for i := 0; i < 1000; i++ {
		tunnel, notebook, err := SamplePorts(0, 0, src)
		if err != nil {
			t.Fatalf("SamplePorts failed: %v", err)
		}
		if tunnel == notebook {
			t.Fatalf("Expected distinct ports, both were %d", tunnel)
		}
		for _, p := range []int{tunnel, notebook} {
			if p < shared.EphemeralPortMin || p > shared.EphemeralPortMax {
				t.Fatalf("Port %d outside ephemeral range", p)
			}
		}
	}
}

func TestSamplePortsRerollsOnCollision(t *testing.T) {
	// The first pair collides, the second differs
	src := &sequenceSource{values: []int{7, 7, 7, 8}}

	tunnel, notebook, err := SamplePorts(0, 0, src)
	if err != nil {
		t.Fatalf("Expected re-roll to succeed, got %v", err)
	}
	if tunnel != shared.EphemeralPortMin+7 || notebook != shared.EphemeralPortMin+8 {
		t.Errorf("Expected ports %d/%d, got %d/%d",
			shared.EphemeralPortMin+7, shared.EphemeralPortMin+8, tunnel, notebook)
	}
	if src.calls != 4 {
		t.Errorf("Expected 4 draws, got %d", src.calls)
	}
}

func TestSamplePortsPermanentCollision(t *testing.T) {
	src := &sequenceSource{values: []int{3}}

	_, _, err := SamplePorts(0, 0, src)
	if !errors.Is(err, ErrPortCollision) {
		t.Fatalf("Expected ErrPortCollision, got %v", err)
	}
}

func TestSamplePortsAvoidsExplicitPort(t *testing.T) {
	// The sampled notebook port first lands on the explicit tunnel port
	src := &sequenceSource{values: []int{0, 1}}

	tunnel, notebook, err := SamplePorts(shared.EphemeralPortMin, 0, src)
	if err != nil {
		t.Fatalf("SamplePorts failed: %v", err)
	}
	if tunnel != shared.EphemeralPortMin {
		t.Errorf("Expected explicit tunnel port to be kept, got %d", tunnel)
	}
	if notebook != shared.EphemeralPortMin+1 {
		t.Errorf("Expected re-rolled notebook port %d, got %d", shared.EphemeralPortMin+1, notebook)
	}
}

func TestToLaunchConfig(t *testing.T) {
	cfg := DefaultCLIConfig()
	cfg.Remote.Host = "abel"
	cfg.Job.Workers = 6

	lc, err := cfg.ToLaunchConfig(&sequenceSource{values: []int{10, 20}})
	if err != nil {
		t.Fatalf("ToLaunchConfig failed: %v", err)
	}

	if lc.Workers() != 6 || lc.Host() != "abel" || lc.LocalPort() != 9999 {
		t.Errorf("Unexpected launch config: workers=%d host=%s local=%d", lc.Workers(), lc.Host(), lc.LocalPort())
	}
	if lc.TunnelPort() != shared.EphemeralPortMin+10 || lc.NotebookPort() != shared.EphemeralPortMin+20 {
		t.Errorf("Unexpected sampled ports %d/%d", lc.TunnelPort(), lc.NotebookPort())
	}
	if lc.LocalURL() != "http://localhost:9999" {
		t.Errorf("Unexpected local URL %s", lc.LocalURL())
	}

	// Mutating the source config must not leak into the frozen record
	cfg.Remote.Host = "changed"
	if lc.Host() != "abel" || lc.Remote().Host != "abel" {
		t.Error("Expected LaunchConfig to be unaffected by later CLIConfig changes")
	}

	fields := lc.Fields()
	for _, key := range []string{"Workers", "LocalPort", "TunnelPort", "NotebookPort", "Host", "Account", "WallTime", "MemPerCPU", "EnvScript"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Expected template field %s", key)
		}
	}
}

func TestToLaunchConfigRejectsInvalid(t *testing.T) {
	cfg := DefaultCLIConfig()
	cfg.Job.Workers = -1

	_, err := cfg.ToLaunchConfig(nil)
	if err == nil || !strings.Contains(err.Error(), "job.workers") {
		t.Errorf("Expected workers validation error, got %v", err)
	}
}
