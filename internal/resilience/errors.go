// Package resilience classifies upstream failures and provides retry for
// the edges that are allowed to retry. The per-chunk extraction call is
// deliberately not one of them: rate-limit and quota errors are surfaced
// as typed errors so the caller can stop processing remaining chunks.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// RateLimitError reports an upstream 429. RetryAfter is zero when the
// upstream did not say.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// QuotaError reports upstream quota exhaustion (402). Retrying is
// pointless until the account is topped up.
type QuotaError struct {
	Err error
}

func (e *QuotaError) Error() string { return fmt.Sprintf("quota exhausted: %v", e.Err) }

func (e *QuotaError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err (or its chain) is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsQuota reports whether err (or its chain) is a QuotaError.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// Halting reports whether err should stop a multi-chunk import: rate
// limits and quota exhaustion abort remaining chunks, everything else is
// scoped to the chunk it occurred on.
func Halting(err error) bool {
	return IsRateLimit(err) || IsQuota(err)
}

// TransientError wraps an error that is safe to retry (5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network patterns.
// Rate-limit and quota errors are not transient here: they carry their own
// halting semantics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if Halting(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
