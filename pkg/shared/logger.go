package shared

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

var (
	// Global structured logger
	logger *slog.Logger

	// Log levels
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// LogConfig holds configuration for the logger
type LogConfig struct {
	Level       slog.Level
	Format      string // "json" or "text"
	AddSource   bool
	ServiceName string
	Output      io.Writer // defaults to stderr so stdout stays free for forwarded session output
}

// DefaultLogConfig returns a default logger configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:       slog.LevelInfo,
		Format:      "text",
		AddSource:   false,
		ServiceName: "launchable",
	}
}

// InitLogger initializes the structured logger
func InitLogger(config *LogConfig) {
	if config == nil {
		config = DefaultLogConfig()
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger = slog.New(handler).With(
		"service", config.ServiceName,
		"version", Version,
	)

	slog.SetDefault(logger)
}

// GetLogger returns the global structured logger
func GetLogger() *slog.Logger {
	if logger == nil {
		InitLogger(nil)
	}
	return logger
}

// LogDebug logs a debug message with structured fields
func LogDebug(msg string, attrs ...slog.Attr) {
	GetLogger().LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

// LogStateTransition records a launch state machine transition
func LogStateTransition(from, to string, attrs ...slog.Attr) {
	allAttrs := append([]slog.Attr{
		slog.String("from", from),
		slog.String("to", to),
		slog.Time("timestamp", time.Now()),
	}, attrs...)
	GetLogger().LogAttrs(context.Background(), slog.LevelDebug, "State transition", allAttrs...)
}

// SetLogLevel re-initializes the logger at the given level
func SetLogLevel(level slog.Level) {
	// slog handlers don't support changing levels in place
	config := DefaultLogConfig()
	config.Level = level
	InitLogger(config)
}
