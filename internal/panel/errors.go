package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError is a non-2xx answer from the panel.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("panel %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("panel %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusNotFound
	}
	return false
}

// IsTransient reports whether err is worth another attempt later: network
// failures, timeouts, rate limiting and server-side errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusTooManyRequests ||
			ae.StatusCode == http.StatusConflict ||
			ae.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
