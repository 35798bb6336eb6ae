package main

import "strings"

// lineBuffer is the editable state of one input line. The cursor counts
// runes.
type lineBuffer struct {
	line   []rune
	cursor int

	history  *[]string
	histPos  int
	browsing bool
	draft    string
}

func newLineBuffer(history *[]string) *lineBuffer {
	return &lineBuffer{history: history, histPos: len(*history)}
}

func (b *lineBuffer) String() string { return string(b.line) }

func (b *lineBuffer) insert(text string) {
	rs := []rune(text)
	b.line = append(b.line[:b.cursor], append(rs, b.line[b.cursor:]...)...)
	b.cursor += len(rs)
}

func (b *lineBuffer) backspace() {
	if b.cursor == 0 {
		return
	}
	b.line = append(b.line[:b.cursor-1], b.line[b.cursor:]...)
	b.cursor--
}

func (b *lineBuffer) deleteAtCursor() {
	if b.cursor < len(b.line) {
		b.line = append(b.line[:b.cursor], b.line[b.cursor+1:]...)
	}
}

func (b *lineBuffer) left() {
	if b.cursor > 0 {
		b.cursor--
	}
}

func (b *lineBuffer) right() {
	if b.cursor < len(b.line) {
		b.cursor++
	}
}

func (b *lineBuffer) home() { b.cursor = 0 }
func (b *lineBuffer) end()  { b.cursor = len(b.line) }

func isBlank(r rune) bool { return r == ' ' || r == '\t' }

// wordStart returns the start of the word left of the cursor.
func (b *lineBuffer) wordStart() int {
	i := b.cursor
	for i > 0 && isBlank(b.line[i-1]) {
		i--
	}
	for i > 0 && !isBlank(b.line[i-1]) {
		i--
	}
	return i
}

func (b *lineBuffer) wordEnd() int {
	i := b.cursor
	for i < len(b.line) && isBlank(b.line[i]) {
		i++
	}
	for i < len(b.line) && !isBlank(b.line[i]) {
		i++
	}
	return i
}

func (b *lineBuffer) wordLeft()  { b.cursor = b.wordStart() }
func (b *lineBuffer) wordRight() { b.cursor = b.wordEnd() }

func (b *lineBuffer) deleteWordBack() {
	start := b.wordStart()
	b.line = append(b.line[:start], b.line[b.cursor:]...)
	b.cursor = start
}

func (b *lineBuffer) deleteWordForward() {
	end := b.wordEnd()
	b.line = append(b.line[:b.cursor], b.line[end:]...)
}

func (b *lineBuffer) set(s string) {
	b.line = []rune(s)
	b.cursor = len(b.line)
}

func (b *lineBuffer) historyUp() {
	h := *b.history
	if len(h) == 0 {
		return
	}
	if !b.browsing {
		b.draft = b.String()
		b.browsing = true
		b.histPos = len(h)
	}
	if b.histPos > 0 {
		b.histPos--
		b.set(h[b.histPos])
	}
}

func (b *lineBuffer) historyDown() {
	if !b.browsing {
		return
	}
	h := *b.history
	if b.histPos < len(h)-1 {
		b.histPos++
		b.set(h[b.histPos])
		return
	}
	b.histPos = len(h)
	b.browsing = false
	b.set(b.draft)
}

// commit records the line in history unless it is blank or repeats the
// previous entry.
func (b *lineBuffer) commit() string {
	out := b.String()
	h := *b.history
	if strings.TrimSpace(out) != "" && (len(h) == 0 || h[len(h)-1] != out) {
		*b.history = append(h, out)
	}
	return out
}

func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
