package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process logger for LOG_FORMAT and LOG_LEVEL. Every
// record carries the service name.
func NewLogger(format, level, service string) *slog.Logger {
	return newLogger(os.Stdout, format, level, service)
}

func newLogger(w io.Writer, format, level, service string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	if service != "" {
		logger = logger.With(slog.String("service", service))
	}
	return logger
}

// parseLevel falls back to info for empty or unknown values.
func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
