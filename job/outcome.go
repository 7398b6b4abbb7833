package job

import "errors"

// Handlers report how a failure should be treated by wrapping the cause:
// Transient failures are retried with backoff until the attempt budget is
// spent; Permanent failures go terminal immediately. The executor applies
// policy by classifying the returned error — handlers never re-raise or
// apply retry logic themselves.

// transientError marks an error as retryable.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return "transient: " + e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }

// permanentError marks an error as non-retryable.
type permanentError struct {
	cause error
}

func (e *permanentError) Error() string { return "permanent: " + e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

// Transient wraps err as a retryable failure (network, timeout, lock
// contention). Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: err}
}

// Permanent wraps err as a non-retryable failure (entity not found,
// validation). Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

// IsPermanent reports whether err is marked non-retryable.
// Unclassified errors default to transient, favoring at-least-once
// execution over silent loss.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
