package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/carrick-labs/doorman-core/internal/infrastructure/config"
)

// Logger is the gateway's structured logger, a thin wrapper over slog
// that stamps every record with service and version attributes.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from config: level filtering, JSON or text
// records, and an output of stdout, stderr, or a file path. A file that
// cannot be opened falls back to stdout so startup is never blocked on
// logging.
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	out := resolveOutput(cfg.Output)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "doorman"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func resolveOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return os.Stdout
	}
	return f
}

// parseLevel maps a config string to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child logger carrying extra default attributes:
//
//	bridgeLog := log.With("component", "bridge")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used before configuration is available: JSON to
// stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
