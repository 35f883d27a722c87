package manager

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dan-v/launchable/internal/metrics"
	"github.com/dan-v/launchable/pkg/shared"
)

// SessionLauncher defines the interface for launching new sessions
type SessionLauncher interface {
	Launch(ctx context.Context) (*Session, error)
}

// Stream is the remote shell output a serving session keeps following
type Stream interface {
	Follow(ctx context.Context, w io.Writer) error
	Close() error
}

// Session is a launched job whose notebook is reachable through the local forward
type Session struct {
	ID        string
	Host      string
	URL       string
	StartedAt time.Time
	Result    *shared.JobResult
	Stream    Stream
}

// JobID returns the scheduler job id, or 0 when unknown
func (s *Session) JobID() int {
	if s.Result == nil {
		return 0
	}
	return s.Result.JobID
}

// Uptime returns how long the session has been serving
func (s *Session) Uptime() time.Duration {
	return time.Since(s.StartedAt)
}

// Manager launches one session and keeps it alive until the remote side
// closes or the context is cancelled
type Manager struct {
	launcher SessionLauncher
	onReady  func(*Session)
	output   io.Writer
	mu       sync.RWMutex

	// Resource management
	activeGoroutines sync.WaitGroup
	shutdownOnce     sync.Once
	shutdownCh       chan struct{}

	session *Session
}

// Option configures a Manager
type Option func(*Manager)

// WithOutput sets where the remote output is forwarded while serving
func WithOutput(w io.Writer) Option {
	return func(m *Manager) { m.output = w }
}

// WithOnReady registers a callback run once the session is serving
func WithOnReady(fn func(*Session)) Option {
	return func(m *Manager) { m.onReady = fn }
}

// New creates a new Manager instance
func New(launcher SessionLauncher, opts ...Option) *Manager {
	m := &Manager{
		launcher:   launcher,
		output:     os.Stdout,
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// startGoroutine safely starts a goroutine with resource tracking
func (m *Manager) startGoroutine(name string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check if we're shutting down
	select {
	case <-m.shutdownCh:
		return fmt.Errorf("manager is shutting down, cannot start goroutine %s", name)
	default:
	}

	m.activeGoroutines.Add(1)
	go func() {
		defer m.activeGoroutines.Done()
		defer func() {
			if r := recover(); r != nil {
				shared.LogErrorf("Goroutine %s panicked: %v", name, r)
			}
		}()
		fn()
	}()

	return nil
}

// Start launches the session and serves it, blocking until the remote stream
// closes or ctx is cancelled
func (m *Manager) Start(ctx context.Context) error {
	shared.LogInfof("Manager: Starting launch")

	session, err := m.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch session: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if m.onReady != nil {
		if err := m.startGoroutine("ready", func() { m.onReady(session) }); err != nil {
			shared.LogError("Manager: ready callback", err)
		}
	}

	done := make(chan error, 1)
	if err := m.startGoroutine("follow", func() { done <- session.Stream.Follow(ctx, m.output) }); err != nil {
		m.shutdown()
		return fmt.Errorf("failed to start output forwarding: %w", err)
	}

	select {
	case <-ctx.Done():
		shared.LogInfof("Manager: Interrupted, closing session %s", session.ID)
		return m.shutdown()
	case err := <-done:
		shutdownErr := m.shutdown()
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("remote session for job %d ended: %w", session.JobID(), err)
		}
		shared.LogInfof("Manager: Remote session for job %d closed", session.JobID())
		return shutdownErr
	}
}

// shutdown closes the session and waits for helper goroutines
func (m *Manager) shutdown() error {
	var err error

	m.shutdownOnce.Do(func() {
		shared.LogInfof("Manager: Beginning shutdown")

		m.mu.Lock()
		close(m.shutdownCh)
		session := m.session
		m.mu.Unlock()

		if session != nil {
			shared.LogClosef("Closing session %s after %s", session.ID,
				humanize.RelTime(session.StartedAt, time.Now(), "", ""))
			if closeErr := session.Stream.Close(); closeErr != nil {
				shared.LogErrorf("Error closing session %s: %v", session.ID, closeErr)
				err = closeErr
			}
		}

		// Wait for all goroutines to finish with timeout
		done := make(chan struct{})
		go func() {
			m.activeGoroutines.Wait()
			close(done)
		}()

		select {
		case <-done:
			shared.LogInfof("Manager: All goroutines finished cleanly")
		case <-time.After(5 * time.Second):
			shared.LogError("Manager: Timeout waiting for goroutines to finish", fmt.Errorf("shutdown timeout"))
		}

		shared.LogInfof("Manager: Forwarded %s to the notebook", humanize.Bytes(uint64(metrics.GetForwardBytes())))
	})

	return err
}

// Current returns the serving session, or nil before launch succeeds
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}
