package session

import "unicode/utf8"

type byteState int

const (
	bytesComplete byteState = iota
	bytesIncomplete
	bytesInvalid
)

// Assembler buffers decoded unit bytes until they form whole UTF-8
// characters. A single unit can decode to part of a multi-byte sequence, so
// output is withheld until the continuation bytes arrive.
type Assembler struct {
	buf []byte
}

// Push appends piece and returns the buffered text when it is complete.
// An incomplete buffer is held. An invalid one is discarded and nothing is
// returned.
func (a *Assembler) Push(piece string) string {
	a.buf = append(a.buf, piece...)
	switch classify(a.buf) {
	case bytesComplete:
		out := string(a.buf)
		a.buf = a.buf[:0]
		return out
	case bytesInvalid:
		a.buf = a.buf[:0]
	}
	return ""
}

// Pending is the number of bytes waiting for continuation.
func (a *Assembler) Pending() int { return len(a.buf) }

// Drop discards buffered bytes and reports how many there were.
func (a *Assembler) Drop() int {
	n := len(a.buf)
	a.buf = a.buf[:0]
	return n
}

// classify walks b one encoded character at a time using the lead byte to
// find the sequence length.
func classify(b []byte) byteState {
	for i := 0; i < len(b); {
		n := seqLen(b[i])
		if n == 0 {
			return bytesInvalid
		}
		end := i + n
		if end > len(b) {
			for _, c := range b[i+1:] {
				if c&0xC0 != 0x80 {
					return bytesInvalid
				}
			}
			return bytesIncomplete
		}
		if !utf8.Valid(b[i:end]) {
			return bytesInvalid
		}
		i = end
	}
	return bytesComplete
}

func seqLen(lead byte) int {
	switch {
	case lead&0x80 == 0x00:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}
