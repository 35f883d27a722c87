package shared

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestJobResult(t *testing.T) {
	tests := []struct {
		name   string
		result *JobResult
		ok     bool
		str    string
	}{
		{"nil", nil, false, "no job"},
		{"aok", &JobResult{JobID: 12345, Status: JobAOK}, true, "job 12345: AOK"},
		{"failed", &JobResult{JobID: 7, Status: JobFailed, DiagnosticLog: "oom"}, false, "job 7: FAILED"},
		{"timed out", &JobResult{JobID: 64, Status: JobTimedOut}, false, "job 64: TimedOut"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.OK(); got != tt.ok {
				t.Errorf("Expected OK() %v, got %v", tt.ok, got)
			}
			if got := tt.result.String(); got != tt.str {
				t.Errorf("Expected %q, got %q", tt.str, got)
			}
		})
	}
}

func TestTailOutput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "...world"},
		{"no limit", "hello", 0, "hello"},
		{"empty", "", 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TailOutput(tt.input, tt.limit); got != tt.want {
				t.Errorf("TailOutput(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.want)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	base := errors.New("broken pipe")

	if WrapError(nil, "send") != nil {
		t.Error("Expected nil for nil error")
	}
	if WrapErrorf(nil, "send %s", "setup") != nil {
		t.Error("Expected nil for nil error")
	}

	err := WrapError(base, "send")
	if !errors.Is(err, base) || err.Error() != "send: broken pipe" {
		t.Errorf("Unexpected wrap: %v", err)
	}

	err = WrapErrorf(base, "send %s", "setup")
	if !errors.Is(err, base) || err.Error() != "send setup: broken pipe" {
		t.Errorf("Unexpected wrapf: %v", err)
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	defer InitLogger(nil)

	var buf bytes.Buffer
	InitLogger(&LogConfig{Level: LevelDebug, Format: "text", ServiceName: "launchable-test", Output: &buf})

	LogStateTransition("Idle", "SettingUp", slog.Int("job_id", 0))
	LogInfof("Launching %d workers", 4)

	out := buf.String()
	for _, want := range []string{"from=Idle", "to=SettingUp", "service=launchable-test", "Launching 4 workers"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in log output, got:\n%s", want, out)
		}
	}
}

func TestGenerateSessionIDFormat(t *testing.T) {
	id := GenerateSessionID()
	if len(id) != 16 {
		t.Errorf("Expected 16 hex characters, got %q", id)
	}
	if GenerateTimestampID() == "" {
		t.Error("Expected non-empty timestamp ID")
	}
}
