package client

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (except 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 2xx response whose body could not be decoded.
	ErrorClassDecode ErrorClass = "decode"
)

// ErrInvalidPolicy is returned by RetryPolicy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// UpstreamError is returned when a call to the legacy API fails.
// It carries the original cause so callers can inspect it with errors.Is/As.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d) on %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d) on %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is transient and worth retrying.
func (e *UpstreamError) Temporary() bool {
	return shouldRetry(e.Class)
}

// IsRetryable is the default retry predicate. Only transient upstream
// failures (network, 5xx, 429) are retried; 4xx, undecodable bodies,
// transformation failures and context errors are not.
func IsRetryable(err error) bool {
	// Caller cancellation is never an UpstreamError; per-attempt timeouts are
	// reported as network-class UpstreamErrors and stay retryable.
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return shouldRetry(upErr.Class)
	}
	return false
}

// ClassOf returns the error class of err, or "unknown" when err is not an
// UpstreamError.
func ClassOf(err error) ErrorClass {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Class
	}
	return "unknown"
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// Retrying a malformed request cannot succeed
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	case ErrorClassDecode:
		return false
	default:
		return false
	}
}
