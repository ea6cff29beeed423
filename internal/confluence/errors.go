// Package confluence provides an HTTP client for the Confluence Cloud REST
// API with automatic rate-limit handling, bounded transport retries, and
// error classification.
package confluence

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for response classification.
// Use errors.Is(err, confluence.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("confluence: bad request")
	ErrUnauthorized = errors.New("confluence: unauthorized")
	ErrForbidden    = errors.New("confluence: forbidden")
	ErrNotFound     = errors.New("confluence: not found")
	ErrConflict     = errors.New("confluence: version conflict")
	ErrRateLimited  = errors.New("confluence: rate limited")
	ErrServer       = errors.New("confluence: server error")

	// ErrTransport marks connection-level failures (refused, reset, timeout)
	// that survived the transport retry budget. Distinct from HTTP-status
	// errors so callers can tell "the server said no" from "no server".
	ErrTransport = errors.New("confluence: transport failure")
)

// APIError wraps a sentinel error with the HTTP status code and response
// body so surfaced errors carry enough context to render a useful message.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // server-supplied delay hint, 0 if absent
	Err        error         // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("confluence: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
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
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServer
		}

		return nil
	}
}

// isServerRetryable reports whether a status code retries on the transport
// budget. 429 is handled separately (rate-limit budget, Retry-After driven)
// and 409 is never retried here; only the sync engine has the context to
// replay an edit against a fresh base.
func isServerRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
