// Package logsink defines where forwarded lines end up. A Sink receives one
// message per call together with its severity and a source tag.
package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Severity is the log level attached to a forwarded line.
type Severity int

const (
	Verbose Severity = iota
	Debug
	Info
	Error
)

func (s Severity) String() string {
	switch s {
	case Verbose:
		return "VERBOSE"
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Error:
		return "ERROR"
	}
	return fmt.Sprintf("SEVERITY(%d)", int(s))
}

// ParseSeverity parses a severity name, case-insensitive.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "VERBOSE":
		return Verbose, nil
	case "DEBUG":
		return Debug, nil
	case "INFO":
		return Info, nil
	case "ERROR":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown severity %q (want verbose, debug, info or error)", name)
}

// SlogLevel maps a severity onto a slog level. Verbose sits below slog's Debug.
func (s Severity) SlogLevel() slog.Level {
	switch s {
	case Verbose:
		return slog.LevelDebug - 4
	case Debug:
		return slog.LevelDebug
	case Info:
		return slog.LevelInfo
	default:
		return slog.LevelError
	}
}

// Sink consumes forwarded lines. Write never fails from the caller's point of
// view and must be safe for concurrent use.
type Sink interface {
	Write(severity Severity, tag string, message string)
}

// SlogSink writes every line as one slog record.
type SlogSink struct {
	logger *slog.Logger
}

var _ Sink = &SlogSink{}

// NewSlogSink returns a sink writing to logger, or to slog.Default() if logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(severity Severity, tag string, message string) {
	s.logger.Log(context.Background(), severity.SlogLevel(), message, "tag", tag)
}

// Multi fans a line out to several sinks in order.
type Multi []Sink

func (m Multi) Write(severity Severity, tag string, message string) {
	for _, s := range m {
		s.Write(severity, tag, message)
	}
}

// Line is one recorded Write call.
type Line struct {
	Severity Severity
	Tag      string
	Message  string
}

// Memory records lines in arrival order. Used by tests and the status page.
type Memory struct {
	mu    sync.Mutex
	lines []Line
}

func (m *Memory) Write(severity Severity, tag string, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, Line{Severity: severity, Tag: tag, Message: message})
}

// Lines returns a copy of everything recorded so far.
func (m *Memory) Lines() []Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Line(nil), m.lines...)
}

// Messages returns the recorded messages with the given tag.
func (m *Memory) Messages(tag string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, l := range m.lines {
		if l.Tag == tag {
			out = append(out, l.Message)
		}
	}
	return out
}
