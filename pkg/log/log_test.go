package log

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		enabled  slog.Level
		disabled slog.Level
	}{
		{name: "debug", logLevel: "debug", enabled: slog.LevelDebug, disabled: slog.LevelDebug - 1},
		{name: "warn", logLevel: "warn", enabled: slog.LevelWarn, disabled: slog.LevelInfo},
		{name: "error", logLevel: "error", enabled: slog.LevelError, disabled: slog.LevelWarn},
		{name: "uppercase is accepted", logLevel: "DEBUG", enabled: slog.LevelDebug, disabled: slog.LevelDebug - 1},
		{name: "unknown falls back to info", logLevel: "verbose", enabled: slog.LevelInfo, disabled: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.logLevel)

			assert.True(t, slog.Default().Enabled(t.Context(), tt.enabled))
			assert.False(t, slog.Default().Enabled(t.Context(), tt.disabled))
		})
	}
}

func TestSetup_JSONFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")

	Setup("info")

	assert.True(t, slog.Default().Enabled(t.Context(), slog.LevelInfo))
}
