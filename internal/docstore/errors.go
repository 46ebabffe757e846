package docstore

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Status codes used to classify store errors. They follow HTTP semantics.
const (
	StatusBadRequest      = http.StatusBadRequest
	StatusUnauthorized    = http.StatusUnauthorized
	StatusNotFound        = http.StatusNotFound
	StatusConflict        = http.StatusConflict
	StatusTooManyRequests = http.StatusTooManyRequests
	StatusInternal        = http.StatusInternalServerError
)

// Error is a classified document store failure.
type Error struct {
	Op         string
	StatusCode int
	// RetryAfter is the minimum delay the store advertises before the call may be retried.
	// Only meaningful for StatusTooManyRequests.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("docstore: %s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError returns an *Error for op with the given status and cause.
func NewError(op string, status int, err error) *Error {
	return &Error{Op: op, StatusCode: status, Err: err}
}

// Throttled returns a too-many-requests error advertising retryAfter.
func Throttled(op string, retryAfter time.Duration) *Error {
	return &Error{Op: op, StatusCode: StatusTooManyRequests, RetryAfter: retryAfter}
}

// StatusCode returns the status of the first *Error in err's chain, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a not-found store error.
func IsNotFound(err error) bool { return StatusCode(err) == StatusNotFound }

// IsConflict reports whether err is an already-exists store error.
func IsConflict(err error) bool { return StatusCode(err) == StatusConflict }

// IsThrottled reports whether err is a rate-limit store error.
func IsThrottled(err error) bool { return StatusCode(err) == StatusTooManyRequests }

// RetryAfter returns the advertised retry delay of a throttled error, or 0.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.StatusCode == StatusTooManyRequests {
		return e.RetryAfter
	}
	return 0
}
