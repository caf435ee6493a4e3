package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorClass represents whether an error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the operation should be retried (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the operation should not be retried (permanent errors).
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// APIError is a non-success HTTP response from a YouTube upload endpoint.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, body)
}

// ClassifyUploadError classifies upload errors into retryable vs fatal categories.
//
// Fatal errors (non-retryable):
//   - Client errors from YouTube (400, 401, 403, 404) other than rate limiting
//   - Context cancellation
//   - Malformed success responses (missing video id)
//
// Retryable errors (transient):
//   - Server errors (5xx) and rate limiting (429)
//   - Network errors (connection reset, timeout, EOF)
//
// Errors that match no known pattern are treated as retryable.
func ClassifyUploadError(err error) ErrorClass {
	if err == nil {
		return ErrorClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassFatal
	}
	if errors.Is(err, ErrMissingVideoID) || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNoAccount) || errors.Is(err, ErrNotConfigured) {
		return ErrorClassFatal
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 500 || apiErr.Status == 429 {
			return ErrorClassRetryable
		}
		return ErrorClassFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassRetryable
	}

	// Transport failures that are not net.Error (resets, EOF mid-body) are worth a retry too.
	return ErrorClassRetryable
}

// IsRetryableError checks if an error should trigger retry logic.
func IsRetryableError(err error) bool {
	return ClassifyUploadError(err) == ErrorClassRetryable
}
