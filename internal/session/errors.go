package session

import (
	"errors"
	"fmt"
)

var (
	// ErrPromptTooLong means the transcript does not fit the context even
	// after the cache was cleared.
	ErrPromptTooLong = errors.New("prompt exceeds context capacity")
	// ErrTurnInProgress is returned by Begin while another turn is active.
	ErrTurnInProgress = errors.New("turn already in progress")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session closed")
)

// TokenizeError reports a tokenizer rejection. The turn did not change any
// session state.
type TokenizeError struct {
	Err error
}

func (e *TokenizeError) Error() string { return "tokenize: " + e.Err.Error() }
func (e *TokenizeError) Unwrap() error { return e.Err }

// FormatError reports a template rendering failure.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return "render template: " + e.Err.Error() }
func (e *FormatError) Unwrap() error { return e.Err }

// EvaluationError reports a failed forward pass. Position is the cache
// position recorded after the failure.
type EvaluationError struct {
	Stage    string
	Position int
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s at position %d: %v", e.Stage, e.Position, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
