// Package logger builds the slog JSON loggers shared by every process in
// pollution-core.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Config controls how a logger is constructed.
type Config struct {
	// Output receives the JSON log lines. Defaults to os.Stdout.
	Output io.Writer
	// Level is the minimum record level that gets written.
	Level slog.Level
	// AddSource attaches the file:line of the caller to each record.
	AddSource bool
}

// DefaultConfig returns the configuration used when none is given:
// info level, stdout, no source positions.
func DefaultConfig() *Config {
	return &Config{
		Level:     slog.LevelInfo,
		Output:    os.Stdout,
		AddSource: false,
	}
}

// New builds a JSON logger from cfg. A nil cfg or nil output falls back
// to the defaults.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	})
	return slog.New(handler)
}

// NewDefault builds a JSON logger with the default configuration.
func NewDefault() *slog.Logger {
	return New(DefaultConfig())
}

// NewWithLevel builds a JSON logger at the given level, defaults otherwise.
func NewWithLevel(level slog.Level) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	return New(cfg)
}

// ParseLevel maps a level name ("debug", "info", "warn"/"warning",
// "error") to its slog.Level. Unknown names resolve to info so a typo in
// config never silences logging.
func ParseLevel(level string) slog.Level {
	switch level {
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

// WithContext returns a child logger carrying the given attributes on
// every subsequent record.
func WithContext(logger *slog.Logger, attrs ...slog.Attr) *slog.Logger {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return logger.With(args...)
}
