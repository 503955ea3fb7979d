// Package logging builds the process slog logger from LOG_LEVEL, LOG_FORMAT
// and LOG_FILE.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Options selects level, format and destination.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console for text, anything else is JSON

	// File enables a daily rotated log file next to stdout. The newest file
	// is linked at File itself.
	File     string
	MaxFiles uint

	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_FILE, falling back to the
// LK_LOG_* names.
func FromEnv() Options {
	return Options{
		Level:  env("LOG_LEVEL", "LK_LOG_LEVEL"),
		Format: env("LOG_FORMAT", "LK_LOG_FORMAT"),
		File:   env("LOG_FILE", "LK_LOG_FILE"),
	}
}

func env(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// ParseLevel maps a level name to slog, defaulting to info.
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

// New builds a logger. The returned close function flushes the log file and
// is never nil.
func New(opts Options) (*slog.Logger, func() error, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	closer := func() error { return nil }

	if opts.File != "" {
		maxFiles := opts.MaxFiles
		if maxFiles == 0 {
			maxFiles = 7
		}
		rl, err := rotatelogs.New(
			opts.File+".%Y%m%d",
			rotatelogs.WithLinkName(opts.File),
			rotatelogs.WithRotationCount(maxFiles),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return nil, closer, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		out = io.MultiWriter(out, rl)
		closer = rl.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	if opts.Format == "console" {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

// Setup builds a logger and installs it as the slog default.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	logger, closer, err := New(opts)
	if err != nil {
		return nil, closer, err
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}
