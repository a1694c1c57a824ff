package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// ErrNotFound is a sentinel error for "not found" cases
var ErrNotFound = errors.New("not found")

// ErrPermanent wraps provider failures that will fail every future attempt,
// e.g. an instance that is already bound to a conversation. Callers must not
// retry these automatically.
var ErrPermanent = errors.New("permanent failure")

// IsNotFoundError checks if an error is a "not found" error
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	// Legacy string-based errors still flow through some provider clients
	return regexp.MustCompile(`(?i)not found`).MatchString(err.Error())
}

// IsPermanentError checks whether an error carries the permanent classification,
// either via the sentinel or via known "already bound" signatures from the
// instance runtime.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already bound") ||
		strings.Contains(msg, "already provisioned") ||
		strings.Contains(msg, "binding conflict")
}

// IsTransientError checks whether an error is worth retrying: timeouts,
// network failures, and retryable HTTP statuses surfaced by provider clients.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanentError(err) || IsNotFoundError(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return IsRetryableStatusCode(statusErr.StatusCode)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}

// IsRetryableStatusCode reports whether an HTTP status from a provider should
// be retried with backoff.
func IsRetryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// HTTPStatusError carries a provider's HTTP status so call sites can classify
// the failure without parsing message strings.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
