package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLoggerFromEnv creates a logger using environment variables
// VULNSCAN_LOG_LEVEL: debug|info|warn|error (default: warn)
// VULNSCAN_LOG_FORMAT: text|json (default: text)
func NewLoggerFromEnv() *slog.Logger {
	return New(os.Stderr, os.Getenv("VULNSCAN_LOG_LEVEL"), os.Getenv("VULNSCAN_LOG_FORMAT"))
}

// New creates a logger writing to w. Empty level and format fall back to the defaults.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, warn when unknown
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
