package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("server overloaded"), 503), true},
		{"wrapped", fmt.Errorf("api call failed: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"regular", errors.New("invalid input: missing field"), false},
		{"connection reset text", errors.New("read: connection reset by peer"), true},
		{"io timeout text", errors.New("dial tcp 10.0.0.1:443: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("call: %w", &TransientError{Err: errors.New("429"), StatusCode: 429, RetryAfter: 3 * time.Second})
	d, ok := RetryAfterHint(err)
	if !ok || d != 3*time.Second {
		t.Errorf("expected 3s hint, got %v (ok=%v)", d, ok)
	}

	if _, ok := RetryAfterHint(NewTransientError(errors.New("503"), 503)); ok {
		t.Error("expected no hint when RetryAfter is zero")
	}
	if _, ok := RetryAfterHint(errors.New("plain")); ok {
		t.Error("expected no hint for plain error")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}
