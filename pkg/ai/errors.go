package ai

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	ErrNoChoices     = errors.New("ai: model returned no choices")
	ErrNoChatClient  = errors.New("ai: no chat client configured")
	ErrNoEmbedClient = errors.New("ai: no embedding client configured")
)

// TransientError marks a model call failure that may succeed when retried:
// timeouts, rate limiting and server-side errors.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as transient.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{err: err}
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// ClassifyStatus wraps err as transient when the HTTP status code says the
// request may succeed later.
func ClassifyStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	if status == 408 || status == 429 || status >= 500 {
		return NewTransientError(err)
	}
	return err
}

// Classify wraps err as transient when its message indicates a temporary
// failure. Errors that already carry a classification are returned as is.
func Classify(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"timeout", "rate limit", "too many requests", "connection refused", "unavailable", "eof"} {
		if strings.Contains(msg, hint) {
			return NewTransientError(err)
		}
	}
	return err
}
