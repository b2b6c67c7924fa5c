package usecase

import (
	"slices"
	"time"

	"clinicrew/internal/domain"
)

// missingToolResult is the content injected for a tool call whose result was lost.
const missingToolResult = "[error] tool call did not produce a result"

// RepairTranscript fixes broken tool chains in a history:
//   - an assistant tool call with no matching result gets an injected error result
//   - a tool result with no preceding call is dropped
//
// Injected results keep the order of the calls. The input is not modified.
func RepairTranscript(messages []domain.Message) []domain.Message {
	if len(messages) == 0 {
		return messages
	}

	out := make([]domain.Message, 0, len(messages))
	var pending []domain.ToolCall

	flush := func() {
		for _, tc := range pending {
			out = append(out, toolResultMessage(tc, missingToolResult))
		}
		pending = pending[:0]
	}

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleAssistant:
			flush()
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					pending = append(pending, tc)
				}
			}
			out = append(out, msg)

		case domain.RoleTool:
			id := toolCallID(msg)
			i := slices.IndexFunc(pending, func(tc domain.ToolCall) bool { return tc.ID == id })
			if id == "" || i < 0 {
				continue
			}
			pending = slices.Delete(pending, i, i+1)
			out = append(out, msg)

		default:
			flush()
			out = append(out, msg)
		}
	}
	flush()
	return out
}

// toolResultMessage builds the tool-role message answering call.
func toolResultMessage(call domain.ToolCall, content string) domain.Message {
	return domain.Message{
		Role:      domain.RoleTool,
		Name:      call.Name,
		Content:   content,
		ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
		Timestamp: time.Now(),
	}
}

func toolCallID(msg domain.Message) string {
	if len(msg.ToolCalls) > 0 {
		return msg.ToolCalls[0].ID
	}
	return ""
}
