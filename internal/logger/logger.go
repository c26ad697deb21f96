// Package logger builds the process slog logger from a level and a sink.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
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

// New returns a text logger writing to sink: "" or "stdout", "stderr",
// or "file:/path". The returned close func releases the file, if any.
func New(level, sink string) (*slog.Logger, func() error, error) {
	w, closeFn, err := openSink(sink)
	if err != nil {
		return nil, nil, err
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h), closeFn, nil
}

func openSink(sink string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	sink = strings.TrimSpace(sink)
	switch {
	case sink == "" || sink == "stdout":
		return os.Stdout, noop, nil
	case sink == "stderr":
		return os.Stderr, noop, nil
	case strings.HasPrefix(sink, "file:"):
		path := strings.TrimPrefix(sink, "file:")
		if path == "" {
			return nil, nil, fmt.Errorf("log sink %q: empty path", sink)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return f, f.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown log sink %q", sink)
}
