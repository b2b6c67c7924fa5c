package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"clinicrew/internal/domain"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		sentinel  error
		status    int
	}{
		{"rate limit sentinel", fmt.Errorf("openai: %w", domain.ErrRateLimit), true, domain.ErrRateLimit, 0},
		{"tool failure sentinel", fmt.Errorf("upstream: %w", domain.ErrToolFailure), true, domain.ErrToolFailure, 0},
		{"auth sentinel", fmt.Errorf("x: %w", domain.ErrAuthInvalid), false, domain.ErrAuthInvalid, 0},
		{"overflow sentinel", fmt.Errorf("x: %w", domain.ErrContextOverflow), false, domain.ErrContextOverflow, 0},
		{"api 429", errors.New("API error 429: slow down"), true, domain.ErrRateLimit, 429},
		{"api 503", errors.New("API error 503: unavailable"), true, nil, 503},
		{"api 400", errors.New("API error 400: bad request"), false, nil, 400},
		{"connection refused", errors.New("dial tcp: connection refused"), true, nil, 0},
		{"too many requests text", errors.New("Too Many Requests"), true, domain.ErrRateLimit, 0},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), false, nil, 0},
		{"unknown", errors.New("something odd"), false, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Retryable() != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable(), tt.retryable)
			}
			if got.Sentinel != tt.sentinel {
				t.Errorf("Sentinel = %v, want %v", got.Sentinel, tt.sentinel)
			}
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
		})
	}
}

func TestClassifyNilError(t *testing.T) {
	if got := ClassifyError(nil); got.Category != ErrorCategoryUnknown || got.Original != nil {
		t.Errorf("ClassifyError(nil) = %+v", got)
	}
}

func TestRetryBackoffBounds(t *testing.T) {
	for attempt := range 8 {
		d := retryBackoff(attempt)
		base := min(baseRetryDelay<<attempt, maxRetryDelay)
		if d < base || d > base+base/4 {
			t.Errorf("attempt %d: backoff %v outside [%v, %v]", attempt, d, base, base+base/4)
		}
	}
}
