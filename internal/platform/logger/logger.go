package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns the process logger. Text output to stderr keeps the pipeline
// usable as a CLI-launched daemon; level comes from VEIL_LOG_LEVEL.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromEnv(),
	}))
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("VEIL_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
