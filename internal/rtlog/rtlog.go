// Package rtlog initializes the process-wide structured logger.
//
// It wraps log/slog the way the teacher framework's own logger package
// does: a colorized text handler for terminal output, a plain handler for
// piped/file output, and a "simple" format (level + message + attrs) as
// the default, with "verbose" (adds timestamp) available for operators who
// want it.
package rtlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into a slog.Level. Unrecognized values fall back to Warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

// coloredHandler renders records as "LEVEL message key=value ..." (optionally
// timestamped in verbose mode), colorizing the level when writing to a
// terminal.
type coloredHandler struct {
	writer   io.Writer
	useColor bool
	verbose  bool
	minLevel slog.Level
}

func (h *coloredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *coloredHandler) Handle(_ context.Context, rec slog.Record) error {
	var buf strings.Builder

	if h.verbose && !rec.Time.IsZero() {
		buf.WriteString(rec.Time.Format("2006/01/02 15:04:05 "))
	}

	levelStr := strings.ToUpper(rec.Level.String())
	if levelStr == "WARNING" {
		levelStr = "WARN"
	}

	if h.useColor {
		buf.WriteString(levelColor(rec.Level))
		buf.WriteString(levelStr)
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelStr)
	}

	buf.WriteString(" ")
	buf.WriteString(rec.Message)

	rec.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *coloredHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *coloredHandler) WithGroup(_ string) slog.Handler      { return h }

// Init sets the process-wide default logger. format is "simple" (default),
// "verbose", or any other value to fall back to slog's standard text
// handler.
func Init(level slog.Level, output *os.File, format string) {
	var handler slog.Handler
	switch format {
	case "simple", "":
		handler = &coloredHandler{writer: output, useColor: isTerminal(output), verbose: false, minLevel: level}
	case "verbose":
		handler = &coloredHandler{writer: output, useColor: isTerminal(output), verbose: true, minLevel: level}
	default:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// Logger returns the process-wide logger, lazily initializing it at Info
// level to stderr if Init has not been called yet.
func Logger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
