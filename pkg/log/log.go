package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide logger. Level names are matched
// case-insensitively and unknown levels fall back to info. Setting
// LOG_FORMAT=json switches to the JSON handler for log collectors.
func Setup(logLevel string) {
	var level slog.Level

	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", "approvalflow"))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
