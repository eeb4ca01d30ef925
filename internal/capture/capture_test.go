package capture

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"scripthost/internal/logsink"
)

// streamFile returns a temp file whose descriptor stands in for a standard
// stream. After redirection, writes to it land in the capture channel.
func streamFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "stream")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func stopCapturer(t *testing.T, c *Capturer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func write(t *testing.T, f *os.File, s string) {
	t.Helper()
	_, err := f.WriteString(s)
	require.NoError(t, err)
}

func newTestCapturer(t *testing.T, mode Mode, redirector Redirector) (*Capturer, *logsink.Memory, *os.File, *os.File) {
	t.Helper()
	out := streamFile(t)
	errFile := streamFile(t)
	mem := &logsink.Memory{}
	c := New(mem, redirector, Options{
		Mode:         mode,
		PollInterval: 10 * time.Millisecond,
		Targets: map[Stream]int{
			Stdout: int(out.Fd()),
			Stderr: int(errFile.Fd()),
		},
	})
	return c, mem, out, errFile
}

func TestCapture_LinesInOrder(t *testing.T) {
	for _, mode := range []Mode{ModeEvent, ModePoll} {
		t.Run(string(mode), func(t *testing.T) {
			c, mem, out, _ := newTestCapturer(t, mode, nil)
			require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

			write(t, out, "hello\n")
			write(t, out, "world\n")
			stopCapturer(t, c)

			require.Equal(t, []logsink.Line{
				{Severity: logsink.Debug, Tag: "stdout", Message: "hello\n"},
				{Severity: logsink.Debug, Tag: "stdout", Message: "world\n"},
			}, mem.Lines())
		})
	}
}

func TestCapture_SplitWritesFormOneLine(t *testing.T) {
	c, mem, out, _ := newTestCapturer(t, ModeEvent, nil)
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

	write(t, out, "partial")
	// Give the reader a chance to pick up the first half on its own.
	require.Eventually(t, func() bool {
		return len(c.Units()) == 1 && c.Units()[0].BytesRead == int64(len("partial"))
	}, 2*time.Second, 5*time.Millisecond)
	write(t, out, " line\n")
	stopCapturer(t, c)

	require.Equal(t, []string{"partial line\n"}, mem.Messages("stdout"))
}

func TestCapture_TrailingPartialLineNeverForwarded(t *testing.T) {
	c, mem, out, _ := newTestCapturer(t, ModeEvent, nil)
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

	write(t, out, "a\nb\nc")
	require.Eventually(t, func() bool {
		return c.Units()[0].PendingBytes == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopCapturer(t, c)
	require.Equal(t, []string{"a\n", "b\n"}, mem.Messages("stdout"))
}

func TestCapture_LongLineAcrossChunks(t *testing.T) {
	c, mem, out, _ := newTestCapturer(t, ModeEvent, nil)
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

	long := strings.Repeat("x", 3*DefaultChunkSize+5) + "\n"
	write(t, out, long)
	stopCapturer(t, c)

	require.Equal(t, []string{long}, mem.Messages("stdout"))
}

func TestCapture_NoDataNoLines(t *testing.T) {
	for _, mode := range []Mode{ModeEvent, ModePoll} {
		t.Run(string(mode), func(t *testing.T) {
			c, mem, _, _ := newTestCapturer(t, mode, nil)
			require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

			time.Sleep(150 * time.Millisecond)
			stopCapturer(t, c)

			require.Empty(t, mem.Lines())
		})
	}
}

func TestCapture_TwoUnitsTagSeparately(t *testing.T) {
	c, mem, out, errFile := newTestCapturer(t, ModeEvent, nil)
	require.NoError(t, c.StartCapture(Stderr, logsink.Error))
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

	for i := 0; i < 20; i++ {
		write(t, out, "out line\n")
		write(t, errFile, "err line\n")
	}
	stopCapturer(t, c)

	for _, l := range mem.Lines() {
		switch l.Tag {
		case "stdout":
			require.Equal(t, logsink.Debug, l.Severity)
			require.Equal(t, "out line\n", l.Message)
		case "stderr":
			require.Equal(t, logsink.Error, l.Severity)
			require.Equal(t, "err line\n", l.Message)
		default:
			t.Fatalf("unexpected tag %q", l.Tag)
		}
	}
	require.Len(t, mem.Messages("stdout"), 20)
	require.Len(t, mem.Messages("stderr"), 20)
}

func TestCapture_CustomTags(t *testing.T) {
	out := streamFile(t)
	mem := &logsink.Memory{}
	c := New(mem, nil, Options{
		Tags:    map[Stream]string{Stdout: "python"},
		Targets: map[Stream]int{Stdout: int(out.Fd())},
	})
	require.NoError(t, c.StartCapture(Stdout, logsink.Info))

	write(t, out, "tagged\n")
	stopCapturer(t, c)

	require.Equal(t, []string{"tagged\n"}, mem.Messages("python"))
}

func TestCapture_DuplicateStartRejected(t *testing.T) {
	c, _, _, _ := newTestCapturer(t, ModeEvent, nil)
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))
	defer stopCapturer(t, c)

	err := c.StartCapture(Stdout, logsink.Info)
	require.ErrorIs(t, err, ErrAlreadyCapturing)
	require.True(t, c.Capturing(Stdout))
	require.Len(t, c.Units(), 1)
}

type failingRedirector struct {
	fail int
	next Redirector
}

func (r failingRedirector) Redirect(target int) (*Channel, error) {
	if target == r.fail {
		return nil, errors.New("pipe: too many open files")
	}
	return r.next.Redirect(target)
}

func TestCapture_SetupFailureLeavesOtherUnit(t *testing.T) {
	out := streamFile(t)
	errFile := streamFile(t)
	mem := &logsink.Memory{}
	c := New(mem, failingRedirector{fail: int(out.Fd()), next: PipeRedirector{}}, Options{
		Targets: map[Stream]int{Stdout: int(out.Fd()), Stderr: int(errFile.Fd())},
	})

	err := c.StartCapture(Stdout, logsink.Debug)
	require.ErrorIs(t, err, ErrSetup)
	require.False(t, c.Capturing(Stdout))

	require.NoError(t, c.StartCapture(Stderr, logsink.Error))
	write(t, errFile, "still here\n")
	stopCapturer(t, c)

	require.Equal(t, []string{"still here\n"}, mem.Messages("stderr"))
	require.Empty(t, mem.Messages("stdout"))
}

func TestCapture_StopRestoresStream(t *testing.T) {
	c, mem, out, _ := newTestCapturer(t, ModeEvent, nil)
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))
	write(t, out, "captured\n")
	stopCapturer(t, c)

	write(t, out, "after stop\n")
	data, err := os.ReadFile(out.Name())
	require.NoError(t, err)
	require.Equal(t, "after stop\n", string(data))
	require.Equal(t, []string{"captured\n"}, mem.Messages("stdout"))

	// A stopped stream can be captured again.
	require.False(t, c.Capturing(Stdout))
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))
	write(t, out, "again\n")
	stopCapturer(t, c)
	require.Equal(t, []string{"captured\n", "again\n"}, mem.Messages("stdout"))
}

func TestCapture_StopDeadlineWithOutstandingWriter(t *testing.T) {
	c, mem, out, _ := newTestCapturer(t, ModeEvent, nil)
	require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

	// Keep a second copy of the write end open so end-of-file never comes.
	dup, err := unix.Dup(int(out.Fd()))
	require.NoError(t, err)
	defer func() { _ = unix.Close(dup) }()

	write(t, out, "before\n")
	require.Eventually(t, func() bool { return len(mem.Lines()) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.Equal(t, []string{"before\n"}, mem.Messages("stdout"))
}

func TestCapture_StopDeadlineDrainsWrittenLines(t *testing.T) {
	for _, mode := range []Mode{ModePoll, ModeEvent} {
		t.Run(string(mode), func(t *testing.T) {
			out := streamFile(t)
			mem := &logsink.Memory{}
			c := New(mem, nil, Options{
				Mode: mode,
				// Long enough that the loop is asleep when the deadline passes.
				PollInterval: time.Second,
				Targets:      map[Stream]int{Stdout: int(out.Fd())},
			})
			require.NoError(t, c.StartCapture(Stdout, logsink.Debug))

			dup, err := unix.Dup(int(out.Fd()))
			require.NoError(t, err)
			defer func() { _ = unix.Close(dup) }()

			write(t, out, "complete line\n")
			write(t, out, "partial")

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			require.NoError(t, c.Stop(ctx))

			require.Equal(t, []string{"complete line\n"}, mem.Messages("stdout"))
		})
	}
}

func TestCapture_PTYRedirector(t *testing.T) {
	c, mem, out, _ := newTestCapturer(t, ModeEvent, PTYRedirector{})
	if err := c.StartCapture(Stdout, logsink.Debug); err != nil {
		t.Skipf("pty not available: %v", err)
	}

	write(t, out, "from a terminal\n")
	require.Eventually(t, func() bool { return len(mem.Lines()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stopCapturer(t, c)

	require.Equal(t, []string{"from a terminal\n"}, mem.Messages("stdout"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("poll")
	require.NoError(t, err)
	require.Equal(t, ModePoll, m)

	_, err = ParseMode("spin")
	require.Error(t, err)
}
