package usecase

import (
	"slices"
	"time"

	"clinicrew/internal/domain"
)

// ContextBuilder assembles the chat request for one specialist call.
type ContextBuilder struct {
	instructions string
	model        string
	temperature  float64
	maxTokens    int
	maxMessages  int
}

// NewContextBuilder creates a builder. maxMessages <= 0 disables the window.
func NewContextBuilder(instructions, model string, maxMessages int) *ContextBuilder {
	return &ContextBuilder{instructions: instructions, model: model, maxMessages: maxMessages}
}

// WithSampling sets temperature and the completion token limit.
func (cb *ContextBuilder) WithSampling(temperature float64, maxTokens int) *ContextBuilder {
	cb.temperature = temperature
	cb.maxTokens = maxTokens
	return cb
}

// Build returns system instructions followed by the repaired, windowed history.
func (cb *ContextBuilder) Build(history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	hist := cb.window(RepairTranscript(history))

	messages := make([]domain.Message, 0, 1+len(hist))
	if cb.instructions != "" {
		messages = append(messages, domain.Message{
			Role:      domain.RoleSystem,
			Content:   cb.instructions,
			Timestamp: time.Now(),
		})
	}
	messages = append(messages, hist...)

	return domain.ChatRequest{
		Model:       cb.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: cb.temperature,
		MaxTokens:   cb.maxTokens,
	}
}

// window keeps the newest messages within maxMessages without splitting an
// assistant tool call from its results.
func (cb *ContextBuilder) window(history []domain.Message) []domain.Message {
	if cb.maxMessages <= 0 || len(history) <= cb.maxMessages {
		return history
	}

	groups := groupMessages(history)
	start, total := len(groups), 0
	for i := len(groups) - 1; i >= 0; i-- {
		n := len(groups[i])
		if total+n > cb.maxMessages && total > 0 {
			break
		}
		start, total = i, total+n
	}
	return slices.Concat(groups[start:]...)
}

// groupMessages partitions msgs so that an assistant message with tool calls
// and the tool results following it form one group.
func groupMessages(msgs []domain.Message) [][]domain.Message {
	var groups [][]domain.Message
	for i := 0; i < len(msgs); {
		j := i + 1
		if msgs[i].Role == domain.RoleAssistant && len(msgs[i].ToolCalls) > 0 {
			for j < len(msgs) && msgs[j].Role == domain.RoleTool {
				j++
			}
		}
		groups = append(groups, msgs[i:j])
		i = j
	}
	return groups
}
