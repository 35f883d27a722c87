package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dan-v/launchable/pkg/shared"
)

// EventKind identifies what a Framer observed in the output stream
type EventKind int

const (
	// BarrierReached means a sync marker was seen
	BarrierReached EventKind = iota
	// LineMatched means one of the requested patterns was seen
	LineMatched
	// StreamClosed means the remote side closed before a match
	StreamClosed
	// Deadline means the wait budget ran out before a match
	Deadline
)

func (k EventKind) String() string {
	switch k {
	case BarrierReached:
		return "BarrierReached"
	case LineMatched:
		return "LineMatched"
	case StreamClosed:
		return "StreamClosed"
	case Deadline:
		return "Deadline"
	default:
		return "Unknown"
	}
}

// Event is a discrete observation on the remote output stream
type Event struct {
	Kind EventKind
	// Pattern and Index identify the match for BarrierReached and LineMatched
	Pattern string
	Index   int
	// Before holds the text received between the previous read position and
	// the match. For StreamClosed it is everything left in the buffer, for
	// Deadline a snapshot that is not consumed.
	Before string
	// Err is the read error that closed the stream, nil on a clean EOF
	Err error
}

// Framer turns a raw byte stream into events. A single goroutine reads the
// stream; callers consume it through Next, Barrier, UntilClosed and CopyTo.
type Framer struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
	err    error
	notify chan struct{}
	echo   io.Writer
}

// NewFramer starts reading r. Every received chunk is also written to echo
// when it is non-nil.
func NewFramer(r io.Reader, echo io.Writer) *Framer {
	f := &Framer{
		notify: make(chan struct{}),
		echo:   echo,
	}
	go f.readLoop(r)
	return f
}

func (f *Framer) readLoop(r io.Reader) {
	chunk := make([]byte, shared.ReadChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if f.echo != nil {
				f.echo.Write(chunk[:n])
			}
			f.mu.Lock()
			f.buf = append(f.buf, chunk[:n]...)
			f.broadcastLocked()
			f.mu.Unlock()
		}
		if err != nil {
			f.mu.Lock()
			f.closed = true
			if !errors.Is(err, io.EOF) {
				f.err = err
			}
			f.broadcastLocked()
			f.mu.Unlock()
			return
		}
	}
}

func (f *Framer) broadcastLocked() {
	close(f.notify)
	f.notify = make(chan struct{})
}

// Closed reports whether the stream has ended, and with which error
func (f *Framer) Closed() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.err
}

// Next waits for the earliest occurrence of any pattern. When two patterns
// match at the same offset the lower index wins. A zero timeout waits until
// the stream closes or ctx is done. The returned error is only set when ctx
// ends the wait.
func (f *Framer) Next(ctx context.Context, timeout time.Duration, patterns ...string) (Event, error) {
	return f.wait(ctx, timeout, LineMatched, patterns)
}

// Barrier waits for marker and reports it as BarrierReached. The line
// terminator following the marker is consumed with it.
func (f *Framer) Barrier(ctx context.Context, timeout time.Duration, marker string) (Event, error) {
	return f.wait(ctx, timeout, BarrierReached, []string{marker})
}

// UntilClosed waits for the stream to end and returns everything received
func (f *Framer) UntilClosed(ctx context.Context, timeout time.Duration) (Event, error) {
	return f.wait(ctx, timeout, StreamClosed, nil)
}

func (f *Framer) wait(ctx context.Context, timeout time.Duration, kind EventKind, patterns []string) (Event, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		f.mu.Lock()
		if ev, ok := f.matchLocked(kind, patterns); ok {
			f.mu.Unlock()
			return ev, nil
		}
		if f.closed {
			ev := Event{Kind: StreamClosed, Index: -1, Before: string(f.buf), Err: f.err}
			f.buf = nil
			f.mu.Unlock()
			return ev, nil
		}
		notify := f.notify
		f.mu.Unlock()

		select {
		case <-notify:
		case <-expired:
			f.mu.Lock()
			ev := Event{Kind: Deadline, Index: -1, Before: string(f.buf)}
			f.mu.Unlock()
			return ev, nil
		case <-ctx.Done():
			return Event{Kind: Deadline, Index: -1}, ctx.Err()
		}
	}
}

func (f *Framer) matchLocked(kind EventKind, patterns []string) (Event, bool) {
	text := string(f.buf)
	pos, idx := -1, -1
	for i, p := range patterns {
		if p == "" {
			continue
		}
		at := strings.Index(text, p)
		if at >= 0 && (pos < 0 || at < pos) {
			pos, idx = at, i
		}
	}
	if idx < 0 {
		return Event{}, false
	}

	end := pos + len(patterns[idx])
	if kind == BarrierReached {
		end = skipLineTerminator(text, end)
	}
	f.buf = f.buf[end:]

	return Event{Kind: kind, Pattern: patterns[idx], Index: idx, Before: text[:pos]}, true
}

func skipLineTerminator(text string, at int) int {
	if strings.HasPrefix(text[at:], "\r\n") {
		return at + 2
	}
	if strings.HasPrefix(text[at:], "\n") {
		return at + 1
	}
	return at
}

// CopyTo writes the buffered and all future output to w until the stream
// closes or ctx is done. It returns the stream's read error, if any.
func (f *Framer) CopyTo(ctx context.Context, w io.Writer) error {
	for {
		f.mu.Lock()
		pending := f.buf
		f.buf = nil
		closed, streamErr := f.closed, f.err
		notify := f.notify
		f.mu.Unlock()

		if len(pending) > 0 {
			if _, err := w.Write(pending); err != nil {
				return err
			}
		}
		if closed {
			return streamErr
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
