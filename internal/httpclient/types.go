package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError represents a backend response with an unexpected status code
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d for %s %s", e.StatusCode, e.Method, e.URL)
	}
	return fmt.Sprintf("HTTP %d for %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
}

// NewAPIError creates a new APIError
func NewAPIError(statusCode int, method, url, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Method:     method,
		URL:        url,
		Message:    message,
	}
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsStatus reports whether err is an APIError with one of the given codes.
func IsStatus(err error, codes ...int) bool {
	status := StatusCode(err)
	if status == 0 {
		return false
	}
	for _, code := range codes {
		if status == code {
			return true
		}
	}
	return false
}

// IsTransient reports whether a failed request is worth retrying. Transport
// failures, 408, 429 and 5xx responses are transient; every other API error is
// not. Cancellation by the caller is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	status := StatusCode(err)
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
