package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx reply from the provider. Callers should prefer the
// predicate functions to asserting on this type.
type APIError struct {
	operation  string
	statusCode int
	errorType  string
	message    string
}

func (e *APIError) Error() string {
	if e.errorType != "" {
		return fmt.Sprintf("%s: HTTP %d: [%s] %s", e.operation, e.statusCode, e.errorType, e.message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.operation, e.statusCode, e.message)
}

func newAPIError(operation string, statusCode int, errorType, message string) *APIError {
	return &APIError{operation: operation, statusCode: statusCode, errorType: errorType, message: message}
}

// StatusCode returns the HTTP status code from the response.
func (e *APIError) StatusCode() int { return e.statusCode }

// ErrorType returns the provider's error type, e.g. "invalid_request_error".
func (e *APIError) ErrorType() string { return e.errorType }

func (e *APIError) Message() string { return e.message }

// IsUnauthorized reports whether err is an API error with HTTP 401 status.
func IsUnauthorized(err error) bool { return HasStatusCode(err, http.StatusUnauthorized) }

// IsRateLimited reports whether err is an API error with HTTP 429 status.
func IsRateLimited(err error) bool { return HasStatusCode(err, http.StatusTooManyRequests) }

// HasStatusCode reports whether err is an API error whose HTTP status code matches.
func HasStatusCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.statusCode == code
}
