package llm

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/tracer"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

var (
	_ domain.LLMProvider          = (*OpenAIProvider)(nil)
	_ domain.StreamingLLMProvider = (*OpenAIProvider)(nil)
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIProvider creates a provider from its config entry.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		name:    cmp.Or(cfg.Name, "openai"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cmp.Or(cfg.BaseURL, defaultOpenAIBaseURL), "/"),
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	req.Model = cmp.Or(req.Model, p.model)
	ctx, span := startChatSpan(ctx, p.name, req.Model)
	defer span.End()

	body, err := json.Marshal(newChatBody(req, false))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data, err := postJSON(ctx, p.client, p.baseURL+"/chat/completions", body, bearer(p.apiKey))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var wire chatCompletion
	if err := json.Unmarshal(data, &wire); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(wire.Choices) == 0 {
		err := fmt.Errorf("%w: response has no choices", domain.ErrProviderError)
		tracer.RecordError(span, err)
		return nil, err
	}

	resp := wire.toDomain()
	finishChatSpan(span, p.logger, p.name, resp)
	return resp, nil
}

// ChatStream implements domain.StreamingLLMProvider. Tool call fragments are
// placed at their wire index so the consumer can merge them by position.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	req.Model = cmp.Or(req.Model, p.model)
	body, err := json.Marshal(newChatBody(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	stream, err := openStream(ctx, p.client, p.baseURL+"/chat/completions", body, bearer(p.apiKey))
	if err != nil {
		return nil, err
	}
	return streamSSE(ctx, stream, decodeOpenAIChunk), nil
}

func decodeOpenAIChunk(data []byte) (*domain.StreamDelta, error) {
	var chunk chatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}
	delta := &domain.StreamDelta{}
	if u := chunk.Usage; u != nil {
		delta.Usage = &domain.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return delta, nil
	}
	c := chunk.Choices[0]
	delta.Content = c.Delta.Content
	for _, tc := range c.Delta.ToolCalls {
		idx := max(tc.Index, 0)
		for len(delta.ToolCalls) <= idx {
			delta.ToolCalls = append(delta.ToolCalls, domain.ToolCall{})
		}
		delta.ToolCalls[idx] = domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		}
	}
	// With include_usage the usage chunk follows the finish chunk, so the
	// stream ends on [DONE] rather than on finish_reason.
	return delta, nil
}

// --- wire types ---

type chatBody struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	Tools         []wireTool     `json:"tools,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireCallFunc `json:"function"`
}

type wireCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage `json:"usage"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

func newChatBody(req domain.ChatRequest, stream bool) chatBody {
	body := chatBody{
		Model:     req.Model,
		Messages:  make([]wireMessage, 0, len(req.Messages)),
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toWireMessage(m))
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type:     "function",
			Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return body
}

func toWireMessage(m domain.Message) wireMessage {
	w := wireMessage{Role: m.Role, Content: m.Content}
	switch m.Role {
	case domain.RoleTool:
		if len(m.ToolCalls) > 0 {
			w.ToolCallID = m.ToolCalls[0].ID
		}
	case domain.RoleAssistant:
		w.Name = m.Name
		for _, tc := range m.ToolCalls {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			w.ToolCalls = append(w.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireCallFunc{Name: tc.Name, Arguments: args},
			})
		}
	}
	return w
}

func (c chatCompletion) toDomain() *domain.ChatResponse {
	created := time.Unix(c.Created, 0)
	choice := c.Choices[0].Message
	msg := domain.Message{
		Role:      cmp.Or(choice.Role, domain.RoleAssistant),
		Content:   choice.Content,
		Timestamp: created,
	}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return &domain.ChatResponse{
		ID:      c.ID,
		Model:   c.Model,
		Message: msg,
		Usage: domain.Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		},
		CreatedAt: created,
	}
}
