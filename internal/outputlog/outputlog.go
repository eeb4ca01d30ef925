package outputlog

import (
	"fmt"
	"regexp"
	"time"

	"scripthost/internal/logsink"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

var tagPattern = regexp.MustCompile(`^[a-zA-Z0-9_./-]{1,64}$`)

// Record is one forwarded line.
type Record struct {
	Tag       string
	Severity  logsink.Severity
	Timestamp time.Time // UTC
	Line      []byte
	Error     error
}

// ValidTag reports whether tag can be written without breaking the format.
func ValidTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// FormatRecord encodes a record.
func FormatRecord(r Record) []byte {
	timestamp := r.Timestamp.UTC().Format(timestampLayout)
	out := fmt.Appendf(nil, "%s %s %s %d: ", r.Tag, r.Severity, timestamp, len(r.Line))
	out = append(out, r.Line...)
	return append(out, '\n')
}
