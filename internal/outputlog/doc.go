// Package outputlog stores forwarded lines in a single append-only file.
//
// # Format
//
// Each record is
//
//	tag severity timestamp length: content\n
//
// # Fields
//
//   - tag: the source tag of the line, matching [a-zA-Z0-9_./-]{1,64}. For
//     example stdout or stderr.
//   - severity: VERBOSE, DEBUG, INFO or ERROR.
//   - timestamp: UTC, 2006-01-02T15:04:05.000000000Z.
//   - length: byte length of content.
//   - content: exactly length bytes, usually ending in the line's own \n.
//   - a separator \n always follows the content.
//
// # Examples
//
//	stdout DEBUG 2025-01-07T12:34:56.789000000Z 6: hello\n\n
//	stderr ERROR 2025-01-07T12:34:57.000000000Z 10: Traceback\n\n
//
// Because the length is explicit, content may hold any byte, including
// newlines and NUL.
package outputlog
