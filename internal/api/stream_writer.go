package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

type streamEvent struct {
	Type           string         `json:"type"`
	SequenceNumber int            `json:"sequence_number"`
	Delta          string         `json:"delta,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Turn           *TurnResponse  `json:"turn,omitempty"`
	Error          *ResponseError `json:"error,omitempty"`
}

// SSEStreamWriter emits a turn as server-sent events: turn.started, one
// turn.delta per chunk, then turn.completed or turn.failed.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	seq     int
	err     error
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	return &SSEStreamWriter{w: res, flusher: flusher.Flush, seq: 1}, nil
}

func (s *SSEStreamWriter) Begin() error {
	return s.send(streamEvent{Type: "turn.started"})
}

// Chunk writes one delta. Write errors are kept and reported by Err; a
// client that went away also cancels the request context.
func (s *SSEStreamWriter) Chunk(content, reasoning string) {
	if content == "" && reasoning == "" {
		return
	}
	if err := s.send(streamEvent{Type: "turn.delta", Delta: content, Reasoning: reasoning}); err != nil && s.err == nil {
		s.err = err
	}
}

func (s *SSEStreamWriter) Complete(turn TurnResponse) error {
	return s.send(streamEvent{Type: "turn.completed", Turn: &turn})
}

func (s *SSEStreamWriter) Failed(err error) error {
	_, typ := classify(err)
	return s.send(streamEvent{Type: "turn.failed", Error: &ResponseError{Message: err.Error(), Type: typ}})
}

func (s *SSEStreamWriter) Err() error { return s.err }

func (s *SSEStreamWriter) send(ev streamEvent) error {
	ev.SequenceNumber = s.seq
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.seq++
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}
