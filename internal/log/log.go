// Package log builds the service's slog logger.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the level, the handler format and an optional log file.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
	File   string `mapstructure:"file"`
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// Output opens the configured destination: the log file in append mode, or
// stdout. The returned closer is a no-op for stdout.
func Output(cfg Config) (io.Writer, func() error, error) {
	if cfg.File == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f.Close, nil
}

// New creates a logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}
