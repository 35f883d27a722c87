package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dan-v/launchable/pkg/shared"
)

var (
	// ErrConnect is returned when the transport could not be established
	ErrConnect = errors.New("connect failed")
	// ErrDisconnected is returned when the stream closed before an expected match
	ErrDisconnected = errors.New("remote stream closed")
	// ErrTimedOut is returned when a wait budget ran out before an expected match
	ErrTimedOut = errors.New("timed out waiting for remote output")
)

// State is the lifecycle state of a Driver
type State int

const (
	StateOpen State = iota
	StateClosedClean
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosedClean:
		return "ClosedClean"
	case StateClosedError:
		return "ClosedError"
	default:
		return "Unknown"
	}
}

// Driver drives one interactive remote shell over a raw byte stream
type Driver struct {
	stdin  io.WriteCloser
	framer *Framer
	closer io.Closer

	echo           io.Writer
	barrierTimeout time.Duration
	newMarker      func() string

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

// Option configures a Driver
type Option func(*Driver)

// WithEcho tees every byte received from the remote shell to w
func WithEcho(w io.Writer) Option {
	return func(d *Driver) { d.echo = w }
}

// WithBarrierTimeout bounds each SyncBarrier wait
func WithBarrierTimeout(timeout time.Duration) Option {
	return func(d *Driver) { d.barrierTimeout = timeout }
}

// WithMarkerSource replaces the generator for the unique part of sync markers
func WithMarkerSource(next func() string) Option {
	return func(d *Driver) { d.newMarker = next }
}

// NewDriver wraps the shell's input and merged output. closer, when non-nil,
// releases the underlying transport on Close.
func NewDriver(stdin io.WriteCloser, stdout io.Reader, closer io.Closer, opts ...Option) *Driver {
	d := &Driver{
		stdin:          stdin,
		closer:         closer,
		barrierTimeout: shared.DefaultBarrierTimeout,
		newMarker:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.framer = NewFramer(stdout, d.echo)
	return d
}

// Send writes text to the shell's input unchanged
func (d *Driver) Send(text string) error {
	if _, err := io.WriteString(d.stdin, text); err != nil {
		return fmt.Errorf("%w: write failed: %v", ErrDisconnected, err)
	}
	return nil
}

// SyncBarrier writes a unique marker and blocks until the shell prints it,
// which proves every byte sent before it has been consumed. The marker is
// split by quoting so an echoing terminal never shows it contiguously.
func (d *Driver) SyncBarrier(ctx context.Context) (Event, error) {
	id := d.newMarker()
	marker := shared.MarkerPrefix + id

	if err := d.Send(fmt.Sprintf("echo '%s''%s'\n", shared.MarkerPrefix, id)); err != nil {
		return Event{Kind: StreamClosed, Index: -1}, err
	}

	ev, err := d.framer.Barrier(ctx, d.barrierTimeout, marker)
	if err != nil {
		return ev, err
	}

	switch ev.Kind {
	case BarrierReached:
		return ev, nil
	case StreamClosed:
		return ev, d.disconnected(ev, "before sync marker")
	default:
		return ev, fmt.Errorf("%w: sync marker not seen within %v", ErrTimedOut, d.barrierTimeout)
	}
}

// ExpectPattern blocks until one of patterns appears in the output. A zero
// timeout waits until the stream closes or ctx is done.
func (d *Driver) ExpectPattern(ctx context.Context, timeout time.Duration, patterns ...string) (Event, error) {
	ev, err := d.framer.Next(ctx, timeout, patterns...)
	if err != nil {
		return ev, err
	}

	switch ev.Kind {
	case LineMatched:
		return ev, nil
	case StreamClosed:
		return ev, d.disconnected(ev, fmt.Sprintf("waiting for %q", patterns))
	default:
		return ev, fmt.Errorf("%w: none of %q within %v", ErrTimedOut, patterns, timeout)
	}
}

// DrainUntilClosed returns all output until the remote side closes. When
// timeout expires first, the text received so far comes back with ErrTimedOut.
func (d *Driver) DrainUntilClosed(ctx context.Context, timeout time.Duration) (Event, error) {
	ev, err := d.framer.UntilClosed(ctx, timeout)
	if err != nil {
		return ev, err
	}
	if ev.Kind == Deadline {
		return ev, fmt.Errorf("%w: remote stream still open after %v", ErrTimedOut, timeout)
	}
	return ev, nil
}

// Follow copies remaining and future output to w until the stream closes
func (d *Driver) Follow(ctx context.Context, w io.Writer) error {
	if err := d.framer.CopyTo(ctx, w); err != nil {
		return d.wrapStreamErr(err)
	}
	return nil
}

// Close releases the shell and its transport. Safe to call more than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		d.stdin.Close()
		if d.closer != nil {
			d.closeErr = d.closer.Close()
		}
	})
	return d.closeErr
}

// State reports Open until the stream ends. A locally requested Close is
// always a clean close.
func (d *Driver) State() State {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return StateClosedClean
	}

	ended, err := d.framer.Closed()
	switch {
	case !ended:
		return StateOpen
	case err != nil:
		return StateClosedError
	default:
		return StateClosedClean
	}
}

func (d *Driver) disconnected(ev Event, doing string) error {
	if ev.Err != nil {
		return fmt.Errorf("%w %s: %v", ErrDisconnected, doing, ev.Err)
	}
	return fmt.Errorf("%w %s", ErrDisconnected, doing)
}

func (d *Driver) wrapStreamErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDisconnected, err)
}
