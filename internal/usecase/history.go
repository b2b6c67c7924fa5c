package usecase

import (
	"fmt"

	"clinicrew/internal/domain"
)

// DefaultHistoryCap is the number of messages kept when a history is reloaded.
const DefaultHistoryCap = 50

// TrimHistory keeps roughly the last limit messages of msgs. The cut starts at
// len(msgs)-limit and moves forward to the first user message, so a tool call
// is never separated from the turn that produced it and the result always
// begins with a user message.
//
// When no user message exists at or after the cut point, ErrHistoryTrim is
// returned and callers should keep the original slice.
func TrimHistory(msgs []domain.Message, limit int) ([]domain.Message, error) {
	if limit <= 0 || len(msgs) <= limit {
		return msgs, nil
	}
	for i := len(msgs) - limit; i < len(msgs); i++ {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i:], nil
		}
	}
	return msgs, fmt.Errorf("%w: no user message in the last %d of %d messages",
		domain.ErrHistoryTrim, limit, len(msgs))
}
