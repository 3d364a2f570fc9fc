package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
)

// ServiceName is the service field on every entry.
const ServiceName = "homenet"

// Logger is a slog.Logger carrying service and version fields.
//
// Thread Safety:
//   - Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the process logger from config.yaml.
//
// Parameters:
//   - cfg: Level (debug, info, warn, error), format (json, text) and
//     output (stdout, stderr); unknown values fall back to info, json
//     and stdout
//   - version: Build version, added to every entry
//
// Returns:
//   - *Logger: Root logger; derive per-subsystem loggers with Component
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return build(w, cfg.Format, cfg.Level, version)
}

// Default is the logger used until config.yaml has been read.
func Default() *Logger {
	return New(config.LoggingConfig{}, "dev")
}

func build(w io.Writer, format, level, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

// parseLevel maps a config level name to slog; unknown names mean info.
func parseLevel(level string) slog.Level {
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

// With returns a logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a logger tagged component=name, one per subsystem:
//
//	net := log.Component("ksx")
//	net.Info("device discovered", "address", "::0E11")
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
