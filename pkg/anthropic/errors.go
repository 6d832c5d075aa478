package anthropic

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// RateLimitError is returned when the API signals throttling (429 or 529
// overloaded). RetryAfter carries the server hint when one was sent.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfterDelay exposes the server hint to retry policies.
func (e *RateLimitError) RetryAfterDelay() time.Duration { return e.RetryAfter }

// AuthError is returned for rejected credentials (401/403). It is never retried.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// QuotaError is returned when the account has no remaining credit or quota.
type QuotaError struct {
	StatusCode int
	Err        error
}

func (e *QuotaError) Error() string { return "quota exhausted: " + e.Err.Error() }
func (e *QuotaError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsQuota reports whether err is a QuotaError.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

func classifyError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(apiErr.Error())
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: apiErr.StatusCode, Err: err}
	case apiErr.StatusCode == http.StatusPaymentRequired ||
		strings.Contains(msg, "credit balance") || strings.Contains(msg, "quota"):
		return &QuotaError{StatusCode: apiErr.StatusCode, Err: err}
	case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == 529 ||
		strings.Contains(msg, "rate_limit_error"):
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return &RateLimitError{StatusCode: apiErr.StatusCode, RetryAfter: retryAfter, Err: err}
	}
	return err
}

// parseRetryAfter accepts delta-seconds (possibly fractional) or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
