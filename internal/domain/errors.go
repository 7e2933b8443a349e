package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrRequestNotFound is returned when a request cannot be found in the database
	ErrRequestNotFound = errors.New("request not found")

	// ErrRequestNotPaused is returned when resuming a request that is running
	ErrRequestNotPaused = errors.New("request was not paused")

	// ErrDuplicateRequest is returned when an idempotency key was already used
	ErrDuplicateRequest = errors.New("request already exists")

	// ErrNoDomain is returned when an address has no domain part
	ErrNoDomain = errors.New("email has no domain part")

	// ErrSlotUnavailable is returned when a domain has no free probe slot
	ErrSlotUnavailable = errors.New("concurrency limit reached")

	// ErrInvalidPayload is returned when a broker message cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")
)

// RetryableError wraps transient errors that should trigger a redelivery
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
