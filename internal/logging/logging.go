// Package logging sets up the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"scripthost/internal/logsink"
)

// ParseLevel accepts the sink severities plus "warn".
func ParseLevel(name string) (slog.Level, error) {
	if strings.EqualFold(strings.TrimSpace(name), "warn") {
		return slog.LevelWarn, nil
	}
	sev, err := logsink.ParseSeverity(name)
	if err != nil {
		return 0, err
	}
	return sev.SlogLevel(), nil
}

// NewLogger builds a text or JSON logger writing to w.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// Setup installs the default logger on a duplicate of the current stderr.
// Log output then keeps going to the terminal after stderr is redirected into
// a capture channel, instead of being captured and forwarded again.
// The returned file must stay open for the life of the logger.
func Setup(level, format string) (*slog.Logger, *os.File, error) {
	fd, err := unix.Dup(int(os.Stderr.Fd()))
	if err != nil {
		return nil, nil, fmt.Errorf("dup stderr: %w", err)
	}
	unix.CloseOnExec(fd)
	out := os.NewFile(uintptr(fd), "stderr")

	logger, err := NewLogger(out, level, format)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, out, nil
}
