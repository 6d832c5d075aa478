package resilience

import (
	"time"
)

// DLQEntry records a message whose processing exhausted its retries.
type DLQEntry struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	Stage        string    `json:"stage,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter narrows a dead letter queue listing. Empty fields match all.
type DLQFilter struct {
	MessageID string `json:"message_id,omitempty"`
	ErrorType string `json:"error_type,omitempty"` // "transient" or "permanent"
	Limit     int    `json:"limit,omitempty"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
