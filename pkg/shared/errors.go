package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// logWithEmoji emits a formatted message with an emoji prefix and keeps the
// unprefixed text as a structured attribute.
func logWithEmoji(level slog.Level, emoji, format string, args ...interface{}) {
	plain := fmt.Sprintf(format, args...)
	GetLogger().Log(context.Background(), level, emoji+" "+plain,
		slog.String("formatted_message", plain),
		slog.Time("timestamp", time.Now()),
	)
}

// LogError logs an error with consistent formatting and emoji prefix
func LogError(operation string, err error) {
	msg := fmt.Sprintf("❌ %s: %v", operation, err)
	GetLogger().Error(msg,
		slog.String("operation", operation),
		slog.String("error", err.Error()),
		slog.Time("timestamp", time.Now()),
	)
}

// LogErrorf logs a formatted error message with emoji prefix
func LogErrorf(format string, args ...interface{}) {
	logWithEmoji(slog.LevelError, "❌", format, args...)
}

// LogWarnf logs a formatted warning with emoji prefix
func LogWarnf(format string, args ...interface{}) {
	logWithEmoji(slog.LevelWarn, "⚠️", format, args...)
}

// LogSuccessf logs a formatted success message with emoji prefix
func LogSuccessf(format string, args ...interface{}) {
	logWithEmoji(slog.LevelInfo, "✅", format, args...)
}

// LogInfof logs a formatted informational message with emoji prefix
func LogInfof(format string, args ...interface{}) {
	logWithEmoji(slog.LevelInfo, "ℹ️", format, args...)
}

// LogProgressf logs a formatted progress message with emoji prefix
func LogProgressf(format string, args ...interface{}) {
	logWithEmoji(slog.LevelInfo, "🔄", format, args...)
}

// LogTargetf logs a formatted target message with emoji prefix
func LogTargetf(format string, args ...interface{}) {
	logWithEmoji(slog.LevelInfo, "🎯", format, args...)
}

// LogNetworkf logs a formatted network message with emoji prefix
func LogNetworkf(format string, args ...interface{}) {
	logWithEmoji(slog.LevelInfo, "🌐", format, args...)
}

// LogStoragef logs a formatted storage message with emoji prefix
func LogStoragef(format string, args ...interface{}) {
	logWithEmoji(slog.LevelInfo, "📂", format, args...)
}

// LogClosef logs a formatted closure message with emoji prefix
func LogClosef(format string, args ...interface{}) {
	logWithEmoji(slog.LevelInfo, "🔚", format, args...)
}

// WrapError wraps an error with additional context
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// WrapErrorf wraps an error with formatted additional context
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
