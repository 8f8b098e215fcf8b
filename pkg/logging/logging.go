// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is a custom log level for detailed HTTP traffic.
const LevelTrace = slog.Level(-8)

// Options selects the level, handler format and destination.
type Options struct {
	Level  string
	Format string
	// File receives the log output. Empty means Fallback.
	File     string
	Fallback io.Writer
}

// ParseLevel maps TRACE, DEBUG, INFO, WARN and ERROR (any case) to a level.
// Unknown values fall back to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from opts. The returned closer releases the log file,
// if one was opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var w io.Writer = opts.Fallback
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}
	if w == nil {
		w = os.Stderr
	}

	level := ParseLevel(opts.Level)
	hopts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, hopts)
	case "", "text":
		handler = slog.NewTextHandler(w, hopts)
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// Setup is New followed by installing the logger as slog's default.
func Setup(opts Options) (io.Closer, error) {
	logger, closer, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	slog.Info("Logging initialized", "level", opts.Level, "format", opts.Format)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
