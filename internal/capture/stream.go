package capture

import (
	"fmt"
	"time"
)

// Stream identifies one of the process's standard streams.
type Stream int

const (
	Stdout Stream = iota + 1
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	}
	return fmt.Sprintf("stream(%d)", int(s))
}

// Fd returns the descriptor number the stream is installed on.
func (s Stream) Fd() int {
	return int(s)
}

// Mode selects how a reader loop waits for data.
type Mode string

const (
	// ModeEvent waits in poll(2) until the read end is readable.
	ModeEvent Mode = "event"
	// ModePoll reads non-blocking and sleeps PollInterval when nothing is there.
	ModePoll Mode = "poll"
)

// ParseMode validates a mode name.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case ModeEvent, ModePoll:
		return Mode(name), nil
	}
	return "", fmt.Errorf("unknown capture mode %q (want event or poll)", name)
}

const (
	DefaultChunkSize    = 2048 - 1
	DefaultPollInterval = 250 * time.Millisecond

	// eventWaitMillis bounds each poll(2) so a stop request is noticed.
	eventWaitMillis = 100

	// drainLimit bounds the final read after a stop request.
	drainLimit = 1 << 20
)

// Options configure the reader loops of a Capturer.
type Options struct {
	Mode         Mode
	ChunkSize    int
	PollInterval time.Duration

	// Tags override the tag forwarded with each stream's lines. The stream
	// name is used when unset.
	Tags map[Stream]string

	// Targets override the descriptor a stream is redirected from. Used to
	// capture something other than the real fd 1 and 2.
	Targets map[Stream]int
}

func DefaultOptions() Options {
	return Options{
		Mode:         ModeEvent,
		ChunkSize:    DefaultChunkSize,
		PollInterval: DefaultPollInterval,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

func (o Options) tag(s Stream) string {
	if t, ok := o.Tags[s]; ok && t != "" {
		return t
	}
	return s.String()
}

func (o Options) target(s Stream) int {
	if fd, ok := o.Targets[s]; ok {
		return fd
	}
	return s.Fd()
}
