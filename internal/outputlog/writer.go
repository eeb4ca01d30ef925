package outputlog

import (
	"io"
	"log/slog"
	"time"

	"scripthost/internal/logsink"
)

// Writer appends records to an io.Writer. A single goroutine owns the
// underlying writer, so Write may be called from any goroutine.
type Writer struct {
	records chan Record
	done    chan struct{}
	now     func() time.Time
}

var _ logsink.Sink = &Writer{}

// NewWriter starts the goroutine writing to w. It runs until Close.
func NewWriter(w io.Writer) *Writer {
	o := &Writer{
		records: make(chan Record, 100),
		done:    make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}

	go func() {
		defer close(o.done)
		failed := false
		for r := range o.records {
			if failed {
				continue
			}
			if _, err := w.Write(FormatRecord(r)); err != nil {
				// Keep draining so senders never block on a dead file.
				slog.Error("Failed to write output log", "error", err)
				failed = true
			}
		}
	}()

	return o
}

// Write implements logsink.Sink. Tags that would break the format are
// replaced by "invalid".
func (o *Writer) Write(severity logsink.Severity, tag string, message string) {
	if !ValidTag(tag) {
		tag = "invalid"
	}
	o.records <- Record{
		Tag:       tag,
		Severity:  severity,
		Timestamp: o.now(),
		Line:      []byte(message),
	}
}

// Channel returns the channel records are written from. Do not close it;
// call Close instead.
func (o *Writer) Channel() chan<- Record {
	return o.records
}

// Close stops accepting records and waits until all are written.
func (o *Writer) Close() {
	close(o.records)
	<-o.done
}
