package logging_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/medscribe/medscribe/internal/config"
	"github.com/medscribe/medscribe/internal/logging"
)

func TestLevelMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := logging.Level(tt.in); got != tt.want {
			t.Errorf("Level(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "medscribe.log")
	no := false
	logger := logging.Setup(config.LoggingConfig{
		Level:     config.LogInfo,
		File:      path,
		Stderr:    &no,
		MaxSizeMB: 1,
	})

	logger.Info("session started", "sessionId", "abc")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestSetupRespectsLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "medscribe.log")
	no := false
	logger := logging.Setup(config.LoggingConfig{
		Level:     config.LogWarn,
		File:      path,
		Stderr:    &no,
		MaxSizeMB: 1,
	})

	logger.Info("suppressed")

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("info line written despite warn level: %q", data)
	}
}
