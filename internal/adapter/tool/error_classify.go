package tool

import (
	"errors"
	"strings"

	"clinicrew/internal/domain"
)

var transientSentinels = []error{
	domain.ErrTimeout,
	domain.ErrRateLimit,
	domain.ErrEmbeddingFailed,
	domain.ErrRecordStore,
}

// Checked case-insensitively.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"database is locked",
	"temporarily unavailable",
}

// isTransient reports whether a tool failure may succeed on retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, s := range transientSentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
