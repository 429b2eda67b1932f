package logger

import (
	"io"
	"log/slog"
)

// NewWithWriter creates a new JSON slog.Logger instance with a specific writer.
// If debug is true, the log level is set to Debug. Otherwise, it's set to Info.
func NewWithWriter(w io.Writer, debug bool) *slog.Logger {
	return NewWithFormat(w, "json", debug)
}

// NewWithFormat creates a logger writing either "json" or "text" records.
// Unknown formats fall back to JSON.
func NewWithFormat(w io.Writer, format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// KeySuffix returns the last 4 characters of a secret, or the full value if
// it's shorter. Use it whenever a key must appear in a log line.
func KeySuffix(key string) string {
	if len(key) > 4 {
		return key[len(key)-4:]
	}
	return key
}
