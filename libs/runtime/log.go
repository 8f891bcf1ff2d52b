package runtime

import (
	"log/slog"
	"os"
	"strings"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
)

func NewLogger(service string) *slog.Logger {
	return NewLoggerWithLevel(service, config.String("LOG_LEVEL", "info"))
}

// NewLoggerWithLevel builds the JSON logger used by every binary. Unknown levels fall back to info.
func NewLoggerWithLevel(service, level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(h).With("service", service)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
