// Package framing splits a continuous byte stream into records that end
// with a caller-chosen delimiter.
//
// Buffer is not safe for concurrent use.  The connection manager keeps
// it on its dispatcher goroutine.
package framing

import "bytes"

// Buffer accumulates received bytes until a delimiter completes a record.
// Bytes are kept raw; only extracted records become strings, so a
// multi-byte character split across reads stays intact.
type Buffer struct {
	data []byte
}

// Append adds p to the end of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// ExtractNext removes and returns everything up to and including the
// first occurrence of delim.  It reports false and leaves the buffer
// untouched when delim is empty or not present.
func (b *Buffer) ExtractNext(delim string) (string, bool) {
	if delim == "" {
		return "", false
	}
	i := bytes.Index(b.data, []byte(delim))
	if i < 0 {
		return "", false
	}
	end := i + len(delim)
	record := string(b.data[:end])

	// Shift the remainder down so the backing array is reused.
	n := copy(b.data, b.data[end:])
	b.data = b.data[:n]
	return record, true
}

// Drain calls fn with every complete record in arrival order and
// returns how many it delivered.
func (b *Buffer) Drain(delim string, fn func(string)) int {
	count := 0
	for {
		rec, ok := b.ExtractNext(delim)
		if !ok {
			return count
		}
		count++
		fn(rec)
	}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// String returns the buffered bytes without consuming them.
func (b *Buffer) String() string { return string(b.data) }

// Reset discards all buffered bytes.
func (b *Buffer) Reset() { b.data = b.data[:0] }
