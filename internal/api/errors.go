package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/chatcache/internal/session"
	"github.com/samcharles93/chatcache/internal/snapshot"
)

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrSessionNotFound = errors.New("session not found")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps an error to an HTTP status and an error type string.
func classify(err error) (int, string) {
	var tokErr *session.TokenizeError
	switch {
	case errors.As(err, &tokErr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, snapshot.ErrBadMagic),
		errors.Is(err, snapshot.ErrUnsupportedVersion):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, session.ErrClosed):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, session.ErrTurnInProgress):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, session.ErrPromptTooLong):
		return http.StatusRequestEntityTooLarge, "prompt_too_long"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
