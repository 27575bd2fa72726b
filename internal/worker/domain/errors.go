package domain

import "errors"

var (
	// ErrInvalidMessage is returned for queue payloads that cannot be decoded
	ErrInvalidMessage = errors.New("invalid job message")

	// ErrJobUnavailable is returned when the engine no longer wants the job
	// executed: it was cancelled, is unknown, or another worker runs it.
	ErrJobUnavailable = errors.New("job is no longer available")

	// ErrDeadlineExceeded is returned when execution outlived the job's
	// deadline. The engine expires such jobs on its own.
	ErrDeadlineExceeded = errors.New("job deadline exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
