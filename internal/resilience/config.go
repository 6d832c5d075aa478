package resilience

import (
	"time"
)

// FromRetryConfig converts configured retry counts and delays to a
// RetryConfig. maxRetries counts retries after the first attempt.
func FromRetryConfig(maxRetries int, base, maxBackoff time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	if base > 0 {
		cfg.InitialBackoff = base
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	return cfg
}
