package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant    StreamMode = "instant"
	StreamSmooth     StreamMode = "smooth"
	StreamTypewriter StreamMode = "typewriter"
	StreamQuiet      StreamMode = "quiet"
)

const (
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

func ParseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case StreamInstant, StreamSmooth, StreamTypewriter, StreamQuiet:
		return m, nil
	case "":
		return StreamInstant, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (instant, smooth, typewriter, quiet)", s)
	}
}

// StreamWriter prints reply chunks as they arrive. Reasoning text is dimmed
// when colour is enabled. Quiet mode prints nothing until Flush.
type StreamWriter struct {
	mode  StreamMode
	out   *bufio.Writer
	color bool
	raw   bool

	mu        sync.Mutex
	batch     strings.Builder
	lastFlush time.Time
	interval  time.Duration
	inReason  bool
	content   strings.Builder
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewStreamWriter(w io.Writer, mode StreamMode, color, raw bool) *StreamWriter {
	sw := &StreamWriter{
		mode:      mode,
		out:       bufio.NewWriterSize(w, 4096),
		color:     color,
		raw:       raw,
		lastFlush: time.Now(),
		interval:  50 * time.Millisecond,
		stop:      make(chan struct{}),
	}
	if mode == StreamSmooth {
		go sw.backgroundFlusher()
	}
	return sw
}

// Write handles one content chunk.
func (w *StreamWriter) Write(chunk string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.content.WriteString(chunk)
	if w.mode == StreamQuiet {
		return
	}
	w.leaveReasoning()
	w.emit(chunk)
}

// WriteReasoning handles one reasoning chunk. It is never shown in quiet
// mode.
func (w *StreamWriter) WriteReasoning(chunk string) {
	if chunk == "" || w.mode == StreamQuiet {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.inReason && w.color {
		w.emit(ansiDim)
	}
	w.inReason = true
	w.emit(chunk)
}

// Flush writes everything buffered and returns the content seen so far.
func (w *StreamWriter) Flush() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leaveReasoning()
	if w.mode == StreamQuiet {
		w.writeOut(w.content.String())
	}
	w.flushBatch()
	_ = w.out.Flush()
	return w.content.String()
}

// Close stops the smooth mode flusher and flushes.
func (w *StreamWriter) Close() string {
	w.stopOnce.Do(func() { close(w.stop) })
	return w.Flush()
}

func (w *StreamWriter) leaveReasoning() {
	if w.inReason && w.color {
		w.emit(ansiReset)
	}
	w.inReason = false
}

// emit routes text according to the mode; callers hold mu.
func (w *StreamWriter) emit(text string) {
	switch w.mode {
	case StreamSmooth:
		w.batch.WriteString(text)
		if strings.Count(w.batch.String(), " ") >= 4 || time.Since(w.lastFlush) >= w.interval {
			w.flushBatch()
		}
	case StreamTypewriter:
		for _, r := range text {
			w.writeOut(string(r))
			_ = w.out.Flush()
		}
	default:
		w.writeOut(text)
		_ = w.out.Flush()
	}
}

func (w *StreamWriter) flushBatch() {
	if w.batch.Len() == 0 {
		return
	}
	w.writeOut(w.batch.String())
	_ = w.out.Flush()
	w.batch.Reset()
	w.lastFlush = time.Now()
}

func (w *StreamWriter) writeOut(text string) {
	if w.raw && !strings.HasPrefix(text, "\x1b[") {
		text = escapeRaw(text)
	}
	_, _ = w.out.WriteString(text)
}

func (w *StreamWriter) backgroundFlusher() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			if time.Since(w.lastFlush) >= w.interval {
				w.flushBatch()
			}
			w.mu.Unlock()
		}
	}
}

// escapeRaw makes control characters visible.
func escapeRaw(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if strconv.IsPrint(r) {
				b.WriteRune(r)
			} else {
				fmt.Fprintf(&b, `\u%04x`, r)
			}
		}
	}
	return b.String()
}
