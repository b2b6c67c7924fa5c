package usecase

import (
	"strings"
	"time"

	"clinicrew/internal/domain"
)

// maxStreamToolCalls bounds the tool call slots a single stream may allocate.
const maxStreamToolCalls = 50

// streamAccumulator merges streaming deltas into one assistant message.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall
	usage     domain.Usage
}

// add merges one delta. Tool calls are keyed by their position in the delta:
// the first fragment carries ID and name, later ones extend the arguments.
func (acc *streamAccumulator) add(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for idx, tc := range delta.ToolCalls {
		if idx >= maxStreamToolCalls {
			break
		}
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}
		slot := &acc.toolCalls[idx]
		if tc.ID != "" {
			slot.ID = tc.ID
		}
		if tc.Name != "" {
			slot.Name = tc.Name
		}
		slot.Arguments = append(slot.Arguments, tc.Arguments...)
	}

	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

func (acc *streamAccumulator) message() domain.Message {
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: acc.toolCalls,
		Timestamp: time.Now(),
	}
}

// drain discards the remaining deltas so the producer can exit.
func drain(ch <-chan domain.StreamDelta) {
	for range ch {
	}
}
