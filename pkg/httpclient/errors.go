package httpclient

import (
	"fmt"
	"time"
)

// RetryableError reports a request that kept failing after every allowed
// retry. StatusCode is the last response status (0 for transport errors).
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable marks the error as transient for error classification.
func (e *RetryableError) IsRetryable() bool {
	return true
}
