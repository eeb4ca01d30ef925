package capture

import "bytes"

// ExtractLines splits buf into the complete lines it contains, each including
// its terminating line-feed, and returns whatever follows the last line-feed.
// Only '\n' ends a line; a preceding '\r' stays part of the line.
func ExtractLines(buf []byte) (lines [][]byte, rest []byte) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return lines, buf
		}
		lines = append(lines, buf[:i+1:i+1])
		buf = buf[i+1:]
	}
}

// Reassembler turns arbitrarily split reads back into lines. The pending
// buffer holds at most one partial line between calls to Feed.
type Reassembler struct {
	pending []byte
}

// Feed appends p to the pending buffer and returns every line completed by it,
// in order. The returned slices do not alias the pending buffer.
func (r *Reassembler) Feed(p []byte) [][]byte {
	r.pending = append(r.pending, p...)
	lines, rest := ExtractLines(r.pending)
	if len(lines) == 0 {
		return nil
	}
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = append([]byte(nil), l...)
	}
	r.pending = append(r.pending[:0], rest...)
	return out
}

// Pending returns the trailing partial line. It is never flushed on its own.
func (r *Reassembler) Pending() []byte {
	return r.pending
}
