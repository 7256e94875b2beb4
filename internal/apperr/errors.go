// Package apperr holds the error taxonomy shared by the sync core and its callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrInvalidURL        = errors.New("invalid url")
	ErrRequestFailed     = errors.New("request failed")
	ErrInvalidResponse   = errors.New("invalid response")
	ErrMalformedDocument = errors.New("malformed document")
	ErrIdentityCollision = errors.New("identity collision")
	ErrBusy              = errors.New("another sync or publish is in progress")
	ErrAlreadyPublished  = errors.New("already published")
	ErrInvalidInput      = errors.New("invalid input")
)

// RequestFailedError carries the HTTP status of a failed remote call.
// Status is 0 when the request never produced a response (timeout, refused connection).
type RequestFailedError struct {
	Op     string
	Status int
	Err    error
}

func (e *RequestFailedError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%s: request failed: %v", e.Op, e.Err)
	case e.Status == 0:
		return fmt.Sprintf("%s: request failed", e.Op)
	default:
		return fmt.Sprintf("%s: request failed with status %d %s", e.Op, e.Status, http.StatusText(e.Status))
	}
}

// Is makes errors.Is(err, ErrRequestFailed) hold for every RequestFailedError.
func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed.
func (e *RequestFailedError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		return rf.Status
	}
	return 0
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		return rf.Retryable()
	}
	return false
}

// UserError prefixes an error with a message meant for people, such as
// "Failed to sync with remote".
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }
