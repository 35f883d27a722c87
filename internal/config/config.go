package config

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/dan-v/launchable/pkg/shared"
)

// ErrPortCollision is returned when tunnel and notebook ports cannot be made distinct
var ErrPortCollision = errors.New("tunnel and notebook ports collide")

// PortSource supplies randomness for ephemeral port selection.
// *math/rand.Rand satisfies it.
type PortSource interface {
	Intn(n int) int
}

// NewPortSource returns a time-seeded PortSource
func NewPortSource() PortSource {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// LaunchConfig is the immutable record a launch attempt is built from.
// It is created once per invocation and only exposes accessors.
type LaunchConfig struct {
	workers      int
	localPort    int
	tunnelPort   int
	notebookPort int
	host         string

	account   string
	wallTime  string
	memPerCPU string
	envScript string

	remote   RemoteConfig
	timeouts TimeoutsConfig
	tmplDir  string
}

// ToLaunchConfig freezes a validated CLIConfig into a LaunchConfig,
// sampling any unset ephemeral port from src.
func (c *CLIConfig) ToLaunchConfig(src PortSource) (*LaunchConfig, error) {
	if errs := ValidateCLIConfig(c); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errs[0])
	}
	if src == nil {
		src = NewPortSource()
	}

	tunnel, notebook, err := SamplePorts(c.Ports.Tunnel, c.Ports.Notebook, src)
	if err != nil {
		return nil, err
	}

	return &LaunchConfig{
		workers:      c.Job.Workers,
		localPort:    c.Ports.Local,
		tunnelPort:   tunnel,
		notebookPort: notebook,
		host:         c.Remote.Host,
		account:      c.Job.Account,
		wallTime:     c.Job.WallTime,
		memPerCPU:    c.Job.MemPerCPU,
		envScript:    c.Job.EnvScript,
		remote:       c.Remote,
		timeouts:     c.Timeouts,
		tmplDir:      c.Templates.Dir,
	}, nil
}

// SamplePorts fills in zero tunnel/notebook ports from the ephemeral range,
// re-rolling on collision. Explicit ports are kept as given.
func SamplePorts(tunnel, notebook int, src PortSource) (int, int, error) {
	if tunnel != 0 && notebook != 0 {
		if tunnel == notebook {
			return 0, 0, fmt.Errorf("%w: both set to %d", ErrPortCollision, tunnel)
		}
		return tunnel, notebook, nil
	}

	span := shared.EphemeralPortMax - shared.EphemeralPortMin + 1
	pick := func() int {
		return shared.EphemeralPortMin + src.Intn(span)
	}

	for attempt := 0; attempt < shared.MaxPortSampleAttempts; attempt++ {
		t, n := tunnel, notebook
		if t == 0 {
			t = pick()
		}
		if n == 0 {
			n = pick()
		}
		if t != n {
			return t, n, nil
		}
		shared.LogDebug(fmt.Sprintf("Port sample collision on %d, re-rolling", t))
	}

	return 0, 0, fmt.Errorf("%w after %d attempts", ErrPortCollision, shared.MaxPortSampleAttempts)
}

func (l *LaunchConfig) Workers() int      { return l.workers }
func (l *LaunchConfig) LocalPort() int    { return l.localPort }
func (l *LaunchConfig) TunnelPort() int   { return l.tunnelPort }
func (l *LaunchConfig) NotebookPort() int { return l.notebookPort }
func (l *LaunchConfig) Host() string      { return l.host }

// Remote returns a copy of the SSH settings
func (l *LaunchConfig) Remote() RemoteConfig { return l.remote }

// Timeouts returns a copy of the wait budgets
func (l *LaunchConfig) Timeouts() TimeoutsConfig { return l.timeouts }

// TemplatesDir is the optional override directory for script templates
func (l *LaunchConfig) TemplatesDir() string { return l.tmplDir }

// LocalURL is the address the browser is pointed at
func (l *LaunchConfig) LocalURL() string {
	return fmt.Sprintf("http://localhost:%d", l.localPort)
}

// Fields returns the values available to script templates, keyed by placeholder name
func (l *LaunchConfig) Fields() map[string]interface{} {
	return map[string]interface{}{
		"Workers":      l.workers,
		"LocalPort":    l.localPort,
		"TunnelPort":   l.tunnelPort,
		"NotebookPort": l.notebookPort,
		"Host":         l.host,
		"Account":      l.account,
		"WallTime":     l.wallTime,
		"MemPerCPU":    l.memPerCPU,
		"EnvScript":    l.envScript,
	}
}
