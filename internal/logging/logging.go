// Package logging configures the process-wide slog logger: level handling,
// optional rotating file output, and secret redaction on every record.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/scrivia/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup builds the process logger from cfg and installs it as the slog
// default. When cfg.File is set, records are written both to stderr and to a
// size-rotated file.
func Setup(cfg config.LoggingConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSizeMB(cfg.MaxBytes),
			MaxBackups: cfg.BackupCount,
		})
	}

	handler := NewMaskingHandler(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ToSlogLevel(cfg.Level),
	}))
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ToSlogLevel maps a config log level onto its slog equivalent. Unknown
// values fall back to info.
func ToSlogLevel(l config.LogLevel) slog.Level {
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

// maxSizeMB converts a byte count into lumberjack's megabyte unit, rounding
// up so a small positive limit still rotates.
func maxSizeMB(bytes int) int {
	if bytes <= 0 {
		return 1
	}
	mb := bytes >> 20
	if bytes&(1<<20-1) != 0 {
		mb++
	}
	return mb
}
