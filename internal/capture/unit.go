package capture

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"scripthost/internal/logsink"
)

// Unit captures one standard stream: a redirected channel, a reader loop
// running on its own goroutine, a reassembler and a forwarder. The pending
// buffer belongs to the reader goroutine alone.
type Unit struct {
	stream    Stream
	severity  logsink.Severity
	channel   *Channel
	forwarder *Forwarder
	opts      Options

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	bytesRead      atomic.Int64
	linesForwarded atomic.Int64
	pendingBytes   atomic.Int64
}

// Stats is a point-in-time view of a unit.
type Stats struct {
	Stream         string `json:"stream"`
	Tag            string `json:"tag"`
	Severity       string `json:"severity"`
	Mode           string `json:"mode"`
	Running        bool   `json:"running"`
	BytesRead      int64  `json:"bytes_read"`
	LinesForwarded int64  `json:"lines_forwarded"`
	PendingBytes   int64  `json:"pending_bytes"`
}

func newUnit(stream Stream, severity logsink.Severity, channel *Channel, sink logsink.Sink, opts Options) *Unit {
	return &Unit{
		stream:    stream,
		severity:  severity,
		channel:   channel,
		forwarder: NewForwarder(sink, severity, opts.tag(stream)),
		opts:      opts,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (u *Unit) Stream() Stream {
	return u.stream
}

// Done is closed when the reader loop has returned.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

func (u *Unit) Stats() Stats {
	running := true
	select {
	case <-u.done:
		running = false
	default:
	}
	return Stats{
		Stream:         u.stream.String(),
		Tag:            u.opts.tag(u.stream),
		Severity:       u.severity.String(),
		Mode:           string(u.opts.Mode),
		Running:        running,
		BytesRead:      u.bytesRead.Load(),
		LinesForwarded: u.linesForwarded.Load(),
		PendingBytes:   u.pendingBytes.Load(),
	}
}

func (u *Unit) signalStop() {
	u.stopOnce.Do(func() { close(u.stop) })
}

func (u *Unit) start() {
	go u.run()
}

func (u *Unit) run() {
	defer close(u.done)

	fd := u.channel.ReadFd()
	buf := make([]byte, u.opts.ChunkSize)
	var reassembler Reassembler

	for {
		select {
		case <-u.stop:
			u.drain(fd, buf, &reassembler)
			return
		default:
		}

		if u.opts.Mode == ModeEvent {
			ready, err := waitReadable(fd)
			if err != nil {
				slog.Error("Capture poll failed", "stream", u.stream, "error", err)
				return
			}
			if !ready {
				continue
			}
		}

		n, err := unix.Read(fd, buf)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				if u.opts.Mode == ModePoll && !u.sleep() {
					u.drain(fd, buf, &reassembler)
					return
				}
				continue
			case errors.Is(err, unix.EIO):
				// A pty master reports EIO once the slave side is closed.
				return
			default:
				slog.Error("Capture read failed", "stream", u.stream, "error", err)
				return
			}
		}
		if n == 0 {
			// End-of-file: the stream was restored and every writer is gone.
			return
		}

		u.consume(buf[:n], &reassembler)
	}
}

func (u *Unit) consume(p []byte, reassembler *Reassembler) {
	u.bytesRead.Add(int64(len(p)))
	for _, line := range reassembler.Feed(p) {
		u.forwarder.Forward(line)
		u.linesForwarded.Add(1)
	}
	u.pendingBytes.Store(int64(len(reassembler.Pending())))
}

// drain forwards the complete lines already sitting in the channel when stop
// is requested. It reads until the channel is empty or drainLimit bytes were
// taken, so a writer that never pauses cannot hold Stop forever. The partial
// tail stays pending.
func (u *Unit) drain(fd int, buf []byte, reassembler *Reassembler) {
	for total := 0; total < drainLimit; {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
		u.consume(buf[:n], reassembler)
		total += n
	}
}

// sleep waits one poll interval. It reports false if stop was requested.
func (u *Unit) sleep() bool {
	timer := time.NewTimer(u.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-u.stop:
		return false
	case <-timer.C:
		return true
	}
}

// waitReadable blocks in poll(2) for at most eventWaitMillis.
func waitReadable(fd int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	count, err := unix.Poll(fds, eventWaitMillis)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	// POLLHUP without POLLIN still needs a read to observe end-of-file.
	return count > 0, nil
}
