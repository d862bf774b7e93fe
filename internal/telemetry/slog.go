package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level is shared by every handler built here, so SetLogLevel takes effect without
// replacing the default logger.
var level = new(slog.LevelVar)

// ParseLevel maps a configured level name to a slog.Level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// newHandler returns a JSON handler for format "json" and a text handler otherwise.
// Source locations are attached only at debug level.
func newHandler(w io.Writer, format string, lvl slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: lvl <= slog.LevelDebug,
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetupLogger installs the process-wide slog logger writing to stdout. Packages log
// through the slog top-level functions and never carry a *slog.Logger around.
func SetupLogger(format, levelName string) {
	lvl := ParseLevel(levelName)
	level.Set(lvl)
	slog.SetDefault(slog.New(newHandler(os.Stdout, format, lvl)))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// SetLogLevel adjusts the live level; cmd/server calls it from the config watcher.
func SetLogLevel(levelName string) {
	lvl := ParseLevel(levelName)
	if level.Level() == lvl {
		return
	}
	level.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}

func LogLevel() slog.Level { return level.Level() }
