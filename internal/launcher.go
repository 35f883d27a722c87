package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dan-v/launchable/internal/config"
	"github.com/dan-v/launchable/internal/manager"
	"github.com/dan-v/launchable/internal/metrics"
	"github.com/dan-v/launchable/internal/session"
	"github.com/dan-v/launchable/internal/templates"
	"github.com/dan-v/launchable/pkg/shared"
)

var (
	// ErrConnect means the SSH transport could not be established
	ErrConnect = errors.New("could not reach remote host")
	// ErrTransportLost means the remote stream closed in the middle of a phase
	ErrTransportLost = errors.New("transport lost")
	// ErrProtocol means the remote output did not have the expected shape
	ErrProtocol = errors.New("remote protocol error")
	// ErrTimedOut means the job never reported AOK or FAILED in time
	ErrTimedOut = errors.New("timed out")
	// ErrJobFailed means the scheduler reported FAILED
	ErrJobFailed = errors.New("job failed")
)

// State is a step of the launch state machine
type State int

const (
	Idle State = iota
	SettingUp
	UploadingScripts
	Submitting
	Polling
	Succeeded
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SettingUp:
		return "SettingUp"
	case UploadingScripts:
		return "UploadingScripts"
	case Submitting:
		return "Submitting"
	case Polling:
		return "Polling"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Shell is the part of the session driver the state machine needs
type Shell interface {
	Send(text string) error
	SyncBarrier(ctx context.Context) (session.Event, error)
	ExpectPattern(ctx context.Context, timeout time.Duration, patterns ...string) (session.Event, error)
	DrainUntilClosed(ctx context.Context, timeout time.Duration) (session.Event, error)
	Close() error
}

// ServingShell is a Shell that can keep forwarding output once the job is up
type ServingShell interface {
	Shell
	Follow(ctx context.Context, w io.Writer) error
}

// Dialer opens the remote shell for one launch attempt
type Dialer func(ctx context.Context) (ServingShell, error)

// LaunchError reports a launch that did not reach AOK
type LaunchError struct {
	State      State
	Result     *shared.JobResult
	LastOutput string
	Err        error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("launch stopped in state %s", e.State)
	if e.Result != nil && e.Result.JobID > 0 {
		msg += fmt.Sprintf(" (job %d)", e.Result.JobID)
	}
	return msg + ": " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Launcher implements the SessionLauncher interface
type Launcher struct {
	config  *config.LaunchConfig
	scripts map[string]templates.Script
	dial    Dialer

	mu         sync.Mutex
	state      State
	lastOutput string
}

// NewLauncher creates a Launcher from pre-rendered phase scripts
func NewLauncher(cfg *config.LaunchConfig, scripts []templates.Script, dial Dialer) (*Launcher, error) {
	l := &Launcher{
		config:  cfg,
		scripts: make(map[string]templates.Script, len(scripts)),
		dial:    dial,
	}
	for _, s := range scripts {
		l.scripts[s.Name] = s
	}
	for _, name := range templates.Names {
		if _, ok := l.scripts[name]; !ok {
			return nil, fmt.Errorf("%w: %s script was not rendered", templates.ErrUnknownTemplate, name)
		}
	}
	return l, nil
}

// SessionDialer opens a real SSH-backed driver for cfg. echo receives the
// raw remote output when non-nil.
func SessionDialer(cfg *config.LaunchConfig, echo io.Writer) Dialer {
	return func(ctx context.Context) (ServingShell, error) {
		remote := cfg.Remote()
		timeouts := cfg.Timeouts()
		drv, err := session.Open(ctx, session.Options{
			Host:                  cfg.Host(),
			User:                  remote.User,
			IdentityFile:          remote.IdentityFile,
			KnownHostsFile:        remote.KnownHosts,
			InsecureIgnoreHostKey: remote.InsecureIgnoreHostKey,
			Shell:                 remote.Shell,
			LocalPort:             cfg.LocalPort(),
			TunnelPort:            cfg.TunnelPort(),
			ConnectTimeout:        timeouts.Connect,
			BarrierTimeout:        timeouts.Barrier,
			Echo:                  echo,
		})
		if err != nil {
			return nil, err
		}
		return drv, nil
	}
}

// State returns the current state of the launch
func (l *Launcher) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastOutput returns the tail of the most recent remote output seen
func (l *Launcher) LastOutput() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastOutput
}

func (l *Launcher) transition(to State, attrs ...slog.Attr) {
	l.mu.Lock()
	from := l.state
	l.state = to
	l.mu.Unlock()

	shared.LogStateTransition(from.String(), to.String(), attrs...)
	metrics.SetLaunchState(to.String())
}

func (l *Launcher) observe(text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	l.lastOutput = shared.TailOutput(text, shared.LastOutputLimit)
	l.mu.Unlock()
}

// Launch opens the remote shell and runs one launch attempt. On AOK the
// session stays open and is returned for serving; otherwise it is closed and
// a *LaunchError describes what happened.
func (l *Launcher) Launch(ctx context.Context) (*manager.Session, error) {
	metrics.RecordLaunchAttempt()
	start := time.Now()

	shared.LogProgressf("Connecting to %s", l.config.Host())
	shell, err := l.dial(ctx)
	if err != nil {
		metrics.RecordLaunchFailure()
		return nil, &LaunchError{State: l.State(), Err: fmt.Errorf("%w: %w", ErrConnect, err)}
	}

	// Operator interrupt severs the transport mid-launch
	stop := context.AfterFunc(ctx, func() { shell.Close() })
	result, err := l.Run(ctx, shell)
	stop()

	if err != nil {
		shell.Close()
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		if errors.Is(err, ErrTimedOut) {
			metrics.RecordLaunchTimeout()
		} else {
			metrics.RecordLaunchFailure()
		}
		return nil, &LaunchError{State: l.State(), Result: result, LastOutput: l.LastOutput(), Err: err}
	}

	switch result.Status {
	case shared.JobAOK:
		elapsed := time.Since(start)
		metrics.RecordLaunchSuccess(elapsed)
		shared.LogSuccessf("Job %d is serving (took %s)", result.JobID, strings.TrimSpace(humanize.RelTime(start, start.Add(elapsed), "", "")))
		return &manager.Session{
			ID:        shared.GenerateSessionID(),
			Host:      l.config.Host(),
			URL:       l.config.LocalURL(),
			StartedAt: time.Now(),
			Result:    result,
			Stream:    shell,
		}, nil

	case shared.JobFailed:
		shell.Close()
		metrics.RecordLaunchFailure()
		return nil, &LaunchError{State: Failed, Result: result, LastOutput: l.LastOutput(), Err: ErrJobFailed}

	default:
		shell.Close()
		metrics.RecordLaunchTimeout()
		return nil, &LaunchError{
			State:      TimedOut,
			Result:     result,
			LastOutput: l.LastOutput(),
			Err: fmt.Errorf("%w: job %d reported no status within %v and may still be queued or running",
				ErrTimedOut, result.JobID, l.config.Timeouts().Status),
		}
	}
}

// Run drives setup, scripts and run over shell. Scheduler outcomes (AOK,
// FAILED, TimedOut) come back as a result; transport and protocol problems
// come back as errors. The shell is not closed.
func (l *Launcher) Run(ctx context.Context, shell Shell) (*shared.JobResult, error) {
	l.transition(SettingUp, slog.String("host", l.config.Host()))
	if _, err := l.phase(ctx, shell, templates.Setup); err != nil {
		return nil, l.fail(err)
	}

	l.transition(UploadingScripts)
	ev, err := l.phase(ctx, shell, templates.Scripts)
	if err != nil {
		return nil, l.fail(err)
	}
	logScriptPaths(ev.Before)

	l.transition(Submitting)
	if err := l.send(shell, templates.Run); err != nil {
		return nil, l.fail(err)
	}
	jobID, err := l.awaitJobID(ctx, shell)
	if err != nil {
		return nil, l.fail(err)
	}
	metrics.SetLastJobID(jobID)
	shared.LogTargetf("Submitted job %d", jobID)

	l.transition(Polling, slog.Int("job_id", jobID))
	return l.awaitStatus(ctx, shell, jobID)
}

// phase sends one rendered script and waits for the shell to consume it
func (l *Launcher) phase(ctx context.Context, shell Shell, name string) (session.Event, error) {
	if err := l.send(shell, name); err != nil {
		return session.Event{}, err
	}

	start := time.Now()
	ev, err := shell.SyncBarrier(ctx)
	l.observe(ev.Before)
	if err != nil {
		return ev, fmt.Errorf("%s phase: %w", name, mapShellErr(err))
	}
	metrics.RecordBarrier(time.Since(start))
	shared.LogDebug("Barrier reached", slog.String("phase", name), slog.Duration("latency", time.Since(start)))

	return ev, nil
}

func (l *Launcher) send(shell Shell, name string) error {
	text := l.scripts[name].Text
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := shell.Send(text); err != nil {
		return fmt.Errorf("sending %s script: %w", name, mapShellErr(err))
	}
	return nil
}

// awaitJobID reads "job id: <n>" up to the end of its line
func (l *Launcher) awaitJobID(ctx context.Context, shell Shell) (int, error) {
	timeout := l.config.Timeouts().Barrier

	ev, err := shell.ExpectPattern(ctx, timeout, shared.JobIDPrefix)
	l.observe(ev.Before)
	if err != nil {
		return 0, jobIDErr(err, timeout)
	}

	ev, err = shell.ExpectPattern(ctx, timeout, shared.LineTerminator)
	l.observe(ev.Before)
	if err != nil {
		return 0, jobIDErr(err, timeout)
	}

	raw := strings.TrimSpace(ev.Before)
	id, ok := parseJobID(raw)
	if !ok {
		return 0, fmt.Errorf("%w: malformed job id %q", ErrProtocol, raw)
	}
	return id, nil
}

// parseJobID accepts only a positive decimal without sign or leading zeros,
// which is how the scheduler prints ids.
func parseJobID(raw string) (int, bool) {
	if raw == "" || raw[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func jobIDErr(err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, session.ErrDisconnected):
		return fmt.Errorf("%w: stream ended before a job id was printed: %w", ErrProtocol, err)
	case errors.Is(err, session.ErrTimedOut):
		return fmt.Errorf("%w: no job id within %v, a job may already be queued: %w", ErrTimedOut, timeout, err)
	default:
		return err
	}
}

// awaitStatus waits for AOK or FAILED and collects the scheduler log on failure
func (l *Launcher) awaitStatus(ctx context.Context, shell Shell, jobID int) (*shared.JobResult, error) {
	timeouts := l.config.Timeouts()

	start := time.Now()
	ev, err := shell.ExpectPattern(ctx, timeouts.Status, shared.StatusAOK, shared.StatusFailed)
	metrics.RecordStatusWait(time.Since(start))
	l.observe(ev.Before)

	switch {
	case err == nil && ev.Pattern == shared.StatusAOK:
		l.transition(Succeeded, slog.Int("job_id", jobID))
		return &shared.JobResult{JobID: jobID, Status: shared.JobAOK}, nil

	case err == nil:
		l.transition(Failed, slog.Int("job_id", jobID))
		shared.LogErrorf("Job %d reported FAILED, collecting scheduler log", jobID)

		drained, derr := shell.DrainUntilClosed(ctx, timeouts.Drain)
		if derr != nil {
			if !errors.Is(derr, session.ErrTimedOut) {
				return &shared.JobResult{JobID: jobID, Status: shared.JobFailed}, l.fail(derr)
			}
			shared.LogWarnf("Scheduler log still streaming after %v, keeping what arrived", timeouts.Drain)
		}
		diag := strings.TrimLeft(drained.Before, "\r\n")
		l.observe(diag)
		return &shared.JobResult{JobID: jobID, Status: shared.JobFailed, DiagnosticLog: diag}, nil

	case errors.Is(err, session.ErrTimedOut):
		l.transition(TimedOut, slog.Int("job_id", jobID), slog.Duration("waited", time.Since(start)))
		return &shared.JobResult{JobID: jobID, Status: shared.JobTimedOut}, nil

	default:
		return &shared.JobResult{JobID: jobID, Status: shared.JobFailed}, l.fail(mapShellErr(err))
	}
}

// fail moves to Failed unless the error is a timeout
func (l *Launcher) fail(err error) error {
	if errors.Is(err, ErrTimedOut) {
		l.transition(TimedOut)
	} else {
		l.transition(Failed, slog.String("error", err.Error()))
	}
	return err
}

func mapShellErr(err error) error {
	switch {
	case errors.Is(err, ErrTransportLost), errors.Is(err, ErrTimedOut), errors.Is(err, ErrProtocol):
		return err
	case errors.Is(err, session.ErrDisconnected):
		return fmt.Errorf("%w: %w", ErrTransportLost, err)
	case errors.Is(err, session.ErrTimedOut):
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	default:
		return err
	}
}

// logScriptPaths reports the BATCH: and RUN: lines printed by the scripts phase
func logScriptPaths(output string) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, shared.BatchPathPrefix):
			shared.LogStoragef("Batch script: %s", strings.TrimPrefix(line, shared.BatchPathPrefix))
		case strings.HasPrefix(line, shared.RunPathPrefix):
			shared.LogStoragef("Run script: %s", strings.TrimPrefix(line, shared.RunPathPrefix))
		}
	}
}
