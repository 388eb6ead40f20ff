package logging

import (
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

var level = new(slog.LevelVar) // adjusted once the config file is loaded

// Init sets up the global logger. Text output is meant for interactive use,
// JSON for running under a process supervisor.
func Init(text bool) {
	var handler slog.Handler
	if text || os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	Logger = slog.New(handler)

	Info = Logger.Info
	Error = Logger.Error
	Warn = Logger.Warn
	Debug = Logger.Debug
}

// SetLevel changes the dynamic log level, e.g. after the configured
// verbosity is known.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel maps a config file level name onto a slog level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// Fatal logs at error level and exits with a non-zero code so the process
// supervisor restarts us.
func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}

// Shortcut helpers, bound in Init
var (
	Info  = slog.Info
	Error = slog.Error
	Warn  = slog.Warn
	Debug = slog.Debug
)

func init() {
	Init(false)
}
