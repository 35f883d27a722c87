package dashboard

import (
	"strings"
	"sync"
	"time"
)

// OutputLine is one line of remote session output
type OutputLine struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// OutputTail keeps the most recent lines written to it in a ring buffer.
// It is an io.Writer so it can sit next to the terminal in a MultiWriter.
type OutputTail struct {
	mu         sync.RWMutex
	lines      []OutputLine
	maxLines   int
	writeIndex int
	count      int
	partial    strings.Builder
	total      int64
}

// NewOutputTail creates a tail holding at most maxLines lines
func NewOutputTail(maxLines int) *OutputTail {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &OutputTail{
		lines:    make([]OutputLine, maxLines),
		maxLines: maxLines,
	}
}

// Write splits p into lines. A trailing fragment is held until its newline arrives.
func (t *OutputTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += int64(len(p))
	now := time.Now()

	rest := string(p)
	for {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			t.partial.WriteString(rest)
			break
		}
		t.partial.WriteString(rest[:idx])
		t.addLine(OutputLine{Time: now, Text: strings.TrimRight(t.partial.String(), "\r")})
		t.partial.Reset()
		rest = rest[idx+1:]
	}

	return len(p), nil
}

func (t *OutputTail) addLine(line OutputLine) {
	t.lines[t.writeIndex] = line
	t.writeIndex = (t.writeIndex + 1) % t.maxLines
	if t.count < t.maxLines {
		t.count++
	}
}

// Lines returns the buffered lines, oldest first
func (t *OutputTail) Lines() []OutputLine {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]OutputLine, 0, t.count)
	start := (t.writeIndex - t.count + t.maxLines) % t.maxLines
	for i := 0; i < t.count; i++ {
		result = append(result, t.lines[(start+i)%t.maxLines])
	}
	return result
}

// Total returns the number of bytes written so far
func (t *OutputTail) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}
