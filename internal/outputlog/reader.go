package outputlog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"scripthost/internal/logsink"
)

// Reader parses records written by Writer.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record. It returns io.EOF at a clean end of input; a
// malformed or truncated record yields a descriptive error.
func (rd *Reader) Next() (Record, error) {
	var rec Record

	tag, err := rd.r.ReadString(' ')
	if err != nil {
		if err == io.EOF && tag == "" {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("reading tag: %w", unexpected(err))
	}
	rec.Tag = strings.TrimSuffix(tag, " ")

	severity, err := rd.r.ReadString(' ')
	if err != nil {
		return rec, fmt.Errorf("reading severity: %w", unexpected(err))
	}
	rec.Severity, err = logsink.ParseSeverity(strings.TrimSuffix(severity, " "))
	if err != nil {
		return rec, fmt.Errorf("parsing severity: %w", err)
	}

	timestamp, err := rd.r.ReadString(' ')
	if err != nil {
		return rec, fmt.Errorf("reading timestamp: %w", unexpected(err))
	}
	rec.Timestamp, err = time.Parse(timestampLayout, strings.TrimSuffix(timestamp, " "))
	if err != nil {
		return rec, fmt.Errorf("parsing timestamp: %w", err)
	}

	length, err := rd.r.ReadString(':')
	if err != nil {
		return rec, fmt.Errorf("reading length: %w", unexpected(err))
	}
	n, err := strconv.Atoi(strings.TrimSuffix(length, ":"))
	if err != nil || n < 0 {
		return rec, fmt.Errorf("parsing length %q", length)
	}

	if b, err := rd.r.ReadByte(); err != nil || b != ' ' {
		return rec, fmt.Errorf("expected space after colon")
	}

	// The buffer grows with the bytes that arrive, not with the claimed length.
	var content bytes.Buffer
	if _, err := io.CopyN(&content, rd.r, int64(n)); err != nil {
		return rec, fmt.Errorf("reading content (%d bytes): %w", n, unexpected(err))
	}
	rec.Line = content.Bytes()

	if b, err := rd.r.ReadByte(); err != nil || b != '\n' {
		return rec, fmt.Errorf("expected newline separator")
	}

	return rec, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Channel emits records until end of input. A parse error is delivered as a
// record with Error set and ends the stream.
func (rd *Reader) Channel() <-chan Record {
	channel := make(chan Record)
	go func() {
		defer close(channel)
		for {
			rec, err := rd.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				rec.Error = err
				channel <- rec
				return
			}
			channel <- rec
		}
	}()
	return channel
}

// Filter selects records. Empty fields match everything.
type Filter struct {
	Tag         string
	MinSeverity logsink.Severity
}

func (f Filter) Match(r Record) bool {
	if f.Tag != "" && r.Tag != f.Tag {
		return false
	}
	return r.Severity >= f.MinSeverity
}

// TagReader returns an io.Reader over the concatenated content of one tag.
// Other tags, severities and timestamps are skipped.
func (rd *Reader) TagReader(tag string) io.Reader {
	return &tagReader{tag: tag, channel: rd.Channel()}
}

type tagReader struct {
	tag     string
	channel <-chan Record
	buffer  []byte
	err     error
}

func (tr *tagReader) Read(p []byte) (int, error) {
	for len(tr.buffer) == 0 {
		if tr.err != nil {
			return 0, tr.err
		}
		rec, ok := <-tr.channel
		if !ok {
			tr.err = io.EOF
			continue
		}
		if rec.Error != nil {
			tr.err = rec.Error
			continue
		}
		if rec.Tag == tr.tag {
			tr.buffer = rec.Line
		}
	}
	n := copy(p, tr.buffer)
	tr.buffer = tr.buffer[n:]
	return n, nil
}

// All returns the content per tag. Reading stops at the first error.
func (rd *Reader) All() (map[string][]byte, error) {
	result := make(map[string][]byte)
	for rec := range rd.Channel() {
		if rec.Error != nil {
			return result, rec.Error
		}
		result[rec.Tag] = append(result[rec.Tag], rec.Line...)
	}
	return result, nil
}
