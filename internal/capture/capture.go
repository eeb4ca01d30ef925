// Package capture forwards everything written to the process's standard
// output and standard error to a logging sink, one line at a time.
//
// Each stream gets its own Unit. StartCapture redirects the stream's
// descriptor into a channel (a pipe or a pseudo-terminal) and starts a reader
// goroutine that reassembles lines and forwards them in write order. Lines of
// different streams are not ordered relative to each other. A trailing line
// without a line-feed is held back and never forwarded.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"scripthost/internal/logsink"
)

var (
	// ErrSetup wraps failures to create or install the channel for a stream.
	ErrSetup = errors.New("capture setup failed")
	// ErrAlreadyCapturing is returned when a stream is started twice.
	ErrAlreadyCapturing = errors.New("stream is already captured")
)

// Capturer owns the capture units of one process.
type Capturer struct {
	mu         sync.Mutex
	sink       logsink.Sink
	redirector Redirector
	opts       Options
	units      map[Stream]*Unit
}

// New returns a Capturer forwarding to sink. A nil redirector means pipes.
func New(sink logsink.Sink, redirector Redirector, opts Options) *Capturer {
	if redirector == nil {
		redirector = PipeRedirector{}
	}
	return &Capturer{
		sink:       sink,
		redirector: redirector,
		opts:       opts.withDefaults(),
		units:      make(map[Stream]*Unit),
	}
}

// StartCapture redirects stream and starts forwarding its lines with the
// given severity. The reader runs until Stop; the caller does not wait for it.
func (c *Capturer) StartCapture(stream Stream, severity logsink.Severity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.units[stream]; ok {
		return fmt.Errorf("%s: %w", stream, ErrAlreadyCapturing)
	}

	channel, err := c.redirector.Redirect(c.opts.target(stream))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSetup, stream, err)
	}

	unit := newUnit(stream, severity, channel, c.sink, c.opts)
	c.units[stream] = unit
	unit.start()

	slog.Debug("Capture started", "stream", stream, "severity", severity, "mode", c.opts.Mode, "fd", channel.Target())
	return nil
}

// Capturing reports whether stream has a unit.
func (c *Capturer) Capturing(stream Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.units[stream]
	return ok
}

// Units returns the stats of every started unit, ordered by stream.
func (c *Capturer) Units() []Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	streams := make([]Stream, 0, len(c.units))
	for s := range c.units {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i] < streams[j] })

	stats := make([]Stats, 0, len(streams))
	for _, s := range streams {
		stats = append(stats, c.units[s].Stats())
	}
	return stats
}

// Stop restores every captured stream and lets the reader loops drain what
// was already written. Loops still running when ctx is done are told to stop.
// Partial trailing lines are dropped. Stop leaves the Capturer empty, so
// streams may be started again afterwards.
func (c *Capturer) Stop(ctx context.Context) error {
	c.mu.Lock()
	units := c.units
	c.units = make(map[Stream]*Unit)
	c.mu.Unlock()

	var errs []error
	for _, u := range units {
		if err := u.channel.Restore(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.stream, err))
		}
	}

	for _, u := range units {
		select {
		case <-u.done:
		case <-ctx.Done():
			slog.Warn("Capture did not drain before deadline", "stream", u.stream)
			u.signalStop()
			<-u.done
		}
		u.signalStop()
		if err := u.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.stream, err))
		}
	}
	return errors.Join(errs...)
}
