package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Vendor-neutral error codes. Every failure path in the framework converges
// on a StructuredError carrying one of these (or an HTTP_<status> code).
const (
	CodeTimeout             = "TIMEOUT"
	CodeConnectionRefused   = "CONNECTION_REFUSED"
	CodeHostNotFound        = "HOST_NOT_FOUND"
	CodeConnectionReset     = "CONNECTION_RESET"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeOAuthRefreshFailed  = "OAUTH_REFRESH_FAILED"
	CodePathTraversal       = "PATH_TRAVERSAL"
	CodeUnsupportedDocument = "UNSUPPORTED_DOCUMENT_TYPE"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeUnknown             = "UNKNOWN_ERROR"
)

// StructuredError is the uniform error shape used across the framework.
// StatusCode is HTTP-like even for non-HTTP failures (408 for timeouts, 0 for
// local validation errors).
type StructuredError struct {
	Message    string
	StatusCode int
	Code       string
	Detail     map[string]interface{}
	Retryable  bool
}

func (e *StructuredError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewStructuredError(message string, statusCode int, code string, retryable bool) *StructuredError {
	return &StructuredError{
		Message:    message,
		StatusCode: statusCode,
		Code:       code,
		Retryable:  retryable,
	}
}

// AsStructured unwraps err into a StructuredError if one is in the chain.
func AsStructured(err error) (*StructuredError, bool) {
	var se *StructuredError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried by the executor.
// Non-structured errors are treated as non-retryable.
func IsRetryable(err error) bool {
	if se, ok := AsStructured(err); ok {
		return se.Retryable
	}
	return false
}

// RetryableStatus reports whether an HTTP status is considered transient.
func RetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// HTTPErrorCode returns the vendor-neutral code for an HTTP failure status.
func HTTPErrorCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

// FromTransportError classifies a low-level transport failure into a
// StructuredError. Timeouts, refusals and resets are retryable; DNS failures
// are not (a bad hostname does not heal on retry).
func FromTransportError(err error) *StructuredError {
	if se, ok := AsStructured(err); ok {
		return se
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		return NewStructuredError("request timed out", 408, CodeTimeout, true)
	case errors.Is(err, syscall.ECONNREFUSED):
		return NewStructuredError("connection refused", 503, CodeConnectionRefused, true)
	case errors.Is(err, syscall.ECONNRESET):
		return NewStructuredError("connection reset by peer", 503, CodeConnectionReset, true)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewStructuredError(fmt.Sprintf("host not found: %s", dnsErr.Name), 503, CodeHostNotFound, false)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewStructuredError("request timed out", 408, CodeTimeout, true)
	}

	// url.Error and friends wrap the causes above but sometimes only carry
	// the text. Fall back to string matching before giving up.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return NewStructuredError("connection refused", 503, CodeConnectionRefused, true)
	case strings.Contains(msg, "connection reset"):
		return NewStructuredError("connection reset by peer", 503, CodeConnectionReset, true)
	case strings.Contains(msg, "no such host"):
		return NewStructuredError(msg, 503, CodeHostNotFound, false)
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "Client.Timeout"):
		return NewStructuredError("request timed out", 408, CodeTimeout, true)
	}

	return NewStructuredError(msg, 0, CodeUnknown, false)
}
