package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the supervisor's logging destination. With File set,
// output goes to a rotated file (lumberjack semantics); otherwise to
// stderr, colorized per level unless Color is false.
type Config struct {
	Level      string `mapstructure:"level"`       // debug|info|warn|error (default info)
	File       string `mapstructure:"file"`        // rotated log file path; empty means stderr
	Color      bool   `mapstructure:"color"`       // colorize console output
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"` // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"` // gzip rotated files
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a slog.Logger from the config. The returned closer is non-nil
// when a rotated file writer was opened and must be closed on shutdown.
func New(c Config) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}

	if c.File != "" {
		w := &lj.Logger{
			Filename:   c.File,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		return slog.New(slog.NewTextHandler(w, opts)), w
	}

	if c.Color {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
