// Package firefly provides an HTTP client for the Firefly school portal API
// with retry of idempotent reads, error classification, and decoding of the
// task, message, and bookmark endpoints the CLI consumes.
package firefly

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, firefly.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("firefly: bad request")
	ErrUnauthorized = errors.New("firefly: unauthorized")
	ErrForbidden    = errors.New("firefly: forbidden")
	ErrNotFound     = errors.New("firefly: not found")
	ErrConflict     = errors.New("firefly: conflict")
	ErrThrottled    = errors.New("firefly: throttled")
	ErrServerError  = errors.New("firefly: server error")
)

// ErrSchoolNotFound is returned by LookupHostname for an unknown school code.
var ErrSchoolNotFound = errors.New("firefly: school code not found")

// APIError wraps a sentinel error with the HTTP status code and the response
// body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firefly: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
