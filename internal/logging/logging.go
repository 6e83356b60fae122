// Package logging wires slog to the configured outputs, including rotating
// file logs for long-running deployments.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/medscribe/medscribe/internal/config"
)

// Setup builds the application logger from cfg. With a file configured,
// output rotates via lumberjack and is optionally mirrored to stderr.
func Setup(cfg config.LoggingConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		if cfg.StderrEnabled() {
			w = io.MultiWriter(os.Stderr, rotator)
		} else {
			w = rotator
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: Level(cfg.Level)}))
}

// Level maps a config log level to its slog equivalent. Unknown values fall
// back to info.
func Level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
