package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"clinicrew/internal/domain"
)

// ErrorCategory indicates whether an LLM error is worth retrying.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, transient network errors
	ErrorCategoryPermanent               // auth, 4xx, context overflow, cancellation
)

// ClassifiedError is the result of ClassifyError.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel, or nil
	StatusCode int   // HTTP status when known
}

// Retryable reports whether the call may succeed when repeated.
func (c ClassifiedError) Retryable() bool { return c.Category == ErrorCategoryRetryable }

// apiErrorPattern matches the "API error <status>:" prefix used by the LLM adapters.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

var transientMarkers = []string{
	"connection refused", "connection reset", "no such host",
	"timeout", "eof", "temporarily unavailable",
}

// ClassifyError maps a provider error onto a retry category.
func ClassifyError(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}
	ce := ClassifiedError{Original: err, Category: ErrorCategoryUnknown}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ce.Category = ErrorCategoryPermanent
		return ce
	case errors.Is(err, domain.ErrRateLimit):
		ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrRateLimit
		return ce
	case errors.Is(err, domain.ErrToolFailure):
		ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrToolFailure
		return ce
	case errors.Is(err, domain.ErrAuthInvalid):
		ce.Category, ce.Sentinel = ErrorCategoryPermanent, domain.ErrAuthInvalid
		return ce
	case errors.Is(err, domain.ErrContextOverflow):
		ce.Category, ce.Sentinel = ErrorCategoryPermanent, domain.ErrContextOverflow
		return ce
	}

	msg := strings.ToLower(err.Error())
	if m := apiErrorPattern.FindStringSubmatch(err.Error()); len(m) == 2 {
		ce.StatusCode, _ = strconv.Atoi(m[1])
		switch code := ce.StatusCode; {
		case code == 429:
			ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrRateLimit
		case code >= 500:
			ce.Category = ErrorCategoryRetryable
		default:
			ce.Category = ErrorCategoryPermanent
		}
		return ce
	}

	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		ce.Category, ce.Sentinel = ErrorCategoryRetryable, domain.ErrRateLimit
		return ce
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			ce.Category = ErrorCategoryRetryable
			return ce
		}
	}
	return ce
}
