package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// Log formats.
const (
	LogFormatAuto   = "auto"
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// NewLogger creates a structured logger writing to stdout and installs it as
// the slog default.
//
// format "auto" picks the pretty handler when stdout is a terminal and JSON otherwise.
func NewLogger(level, format string) *slog.Logger {
	log := slog.New(newHandler(os.Stdout, level, format, isatty.IsTerminal(os.Stdout.Fd())))
	slog.SetDefault(log)
	return log
}

func newHandler(w io.Writer, level, format string, tty bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case LogFormatPretty:
		return newConsoleHandler(w, opts, tty)
	case LogFormatJSON:
		return slog.NewJSONHandler(w, opts)
	default:
		if tty {
			return newConsoleHandler(w, opts, true)
		}
		return slog.NewJSONHandler(w, opts)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
