package llm

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/tracer"
)

const (
	defaultBedrockRegion    = "us-east-1"
	defaultBedrockMaxTokens = 4096
)

var (
	_ domain.LLMProvider          = (*BedrockProvider)(nil)
	_ domain.StreamingLLMProvider = (*BedrockProvider)(nil)
)

// converseAPI is the subset of the Bedrock runtime client the provider uses.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider calls models through the Bedrock Converse API using the
// default AWS credential chain.
type BedrockProvider struct {
	name   string
	model  string
	client converseAPI
	logger *slog.Logger
}

// NewBedrockProvider loads AWS configuration for the configured region.
func NewBedrockProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cmp.Or(cfg.Region, defaultBedrockRegion)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockProvider{
		name:   cmp.Or(cfg.Name, "bedrock"),
		model:  cfg.Model,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (p *BedrockProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	req.Model = cmp.Or(req.Model, p.model)
	ctx, span := startChatSpan(ctx, p.name, req.Model)
	defer span.End()

	in := newConverse(req)
	out, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         in.model,
		Messages:        in.messages,
		System:          in.system,
		InferenceConfig: in.inference,
		ToolConfig:      in.tools,
	})
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	resp := &domain.ChatResponse{
		Model:     req.Model,
		Message:   domain.Message{Role: domain.RoleAssistant, Timestamp: time.Now()},
		Usage:     bedrockUsage(out.Usage),
		CreatedAt: time.Now(),
	}
	if m, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		var text strings.Builder
		for _, block := range m.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				text.WriteString(b.Value)
			case *types.ContentBlockMemberToolUse:
				resp.Message.ToolCalls = append(resp.Message.ToolCalls, domain.ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: documentJSON(b.Value.Input),
				})
			}
		}
		resp.Message.Content = text.String()
	}
	finishChatSpan(span, p.logger, p.name, resp)
	return resp, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *BedrockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	req.Model = cmp.Or(req.Model, p.model)
	in := newConverse(req)
	out, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         in.model,
		Messages:        in.messages,
		System:          in.system,
		InferenceConfig: in.inference,
		ToolConfig:      in.tools,
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		var dec bedrockStreamDecoder
		for ev := range stream.Events() {
			delta, ok := dec.decode(ev)
			if !ok {
				continue
			}
			select {
			case ch <- delta:
			case <-ctx.Done():
				return
			}
			if delta.Done {
				return
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn("bedrock stream ended with error", "error", err)
			select {
			case ch <- domain.StreamDelta{Done: true}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// bedrockStreamDecoder maps content block indices to tool call slots so
// streamed tool input lands on the right call.
type bedrockStreamDecoder struct {
	slots map[int32]int
}

func (d *bedrockStreamDecoder) slot(block *int32) (int, bool) {
	if block == nil {
		return 0, false
	}
	i, ok := d.slots[*block]
	return i, ok
}

func (d *bedrockStreamDecoder) decode(ev types.ConverseStreamOutput) (domain.StreamDelta, bool) {
	switch e := ev.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse)
		if !ok || e.Value.ContentBlockIndex == nil {
			return domain.StreamDelta{}, false
		}
		if d.slots == nil {
			d.slots = make(map[int32]int)
		}
		idx := len(d.slots)
		d.slots[*e.Value.ContentBlockIndex] = idx
		calls := make([]domain.ToolCall, idx+1)
		calls[idx] = domain.ToolCall{
			ID:   aws.ToString(start.Value.ToolUseId),
			Name: aws.ToString(start.Value.Name),
		}
		return domain.StreamDelta{ToolCalls: calls}, true

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return domain.StreamDelta{Content: delta.Value}, true
		case *types.ContentBlockDeltaMemberToolUse:
			idx, ok := d.slot(e.Value.ContentBlockIndex)
			if !ok {
				return domain.StreamDelta{}, false
			}
			calls := make([]domain.ToolCall, idx+1)
			calls[idx].Arguments = json.RawMessage(aws.ToString(delta.Value.Input))
			return domain.StreamDelta{ToolCalls: calls}, true
		}

	case *types.ConverseStreamOutputMemberMetadata:
		usage := bedrockUsage(e.Value.Usage)
		return domain.StreamDelta{Usage: &usage, Done: true}, true
	}
	return domain.StreamDelta{}, false
}

type converseInput struct {
	model     *string
	messages  []types.Message
	system    []types.SystemContentBlock
	inference *types.InferenceConfiguration
	tools     *types.ToolConfiguration
}

func newConverse(req domain.ChatRequest) converseInput {
	in := converseInput{
		model: aws.String(req.Model),
		inference: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(cmp.Or(req.MaxTokens, defaultBedrockMaxTokens))),
		},
	}
	if req.Temperature > 0 {
		in.inference.Temperature = aws.Float32(float32(req.Temperature))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			in.system = append(in.system, &types.SystemContentBlockMemberText{Value: m.Content})
		case domain.RoleUser:
			in.messages = appendTurn(in.messages, types.ConversationRoleUser,
				&types.ContentBlockMemberText{Value: m.Content})
		case domain.RoleAssistant:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(jsonObject(tc.Arguments)),
				}})
			}
			if len(blocks) > 0 {
				in.messages = appendTurn(in.messages, types.ConversationRoleAssistant, blocks...)
			}
		case domain.RoleTool:
			id := ""
			if len(m.ToolCalls) > 0 {
				id = m.ToolCalls[0].ID
			}
			in.messages = appendTurn(in.messages, types.ConversationRoleUser,
				&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(id),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
				}})
		}
	}

	if len(req.Tools) > 0 {
		in.tools = &types.ToolConfiguration{}
		for _, t := range req.Tools {
			in.tools.Tools = append(in.tools.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(jsonObject(t.Parameters))},
			}})
		}
	}
	return in
}

// appendTurn merges consecutive blocks of the same role into one message;
// Converse rejects two adjacent messages with the same role, which parallel
// tool results would otherwise produce.
func appendTurn(msgs []types.Message, role types.ConversationRole, blocks ...types.ContentBlock) []types.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
		return msgs
	}
	return append(msgs, types.Message{Role: role, Content: blocks})
}

func jsonObject(raw json.RawMessage) map[string]any {
	var v map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	if v == nil {
		v = map[string]any{}
	}
	return v
}

func documentJSON(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func bedrockUsage(u *types.TokenUsage) domain.Usage {
	if u == nil {
		return domain.Usage{}
	}
	in, out := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
	return domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return domain.WrapOp("bedrock", err)
	}
	switch code := apiErr.ErrorCode(); code {
	case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
		return fmt.Errorf("%w: %v", domain.ErrRateLimit, err)
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		return fmt.Errorf("%w: %v", domain.ErrAuthInvalid, err)
	case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
		return fmt.Errorf("%w: %v", domain.ErrToolFailure, err)
	case "ValidationException":
		if strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "too long") {
			return fmt.Errorf("%w: %v", domain.ErrContextOverflow, err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderError, err)
}
