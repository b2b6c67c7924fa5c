package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clinicrew/internal/domain"
)

var (
	_ domain.LLMProvider          = (*FailoverProvider)(nil)
	_ domain.StreamingLLMProvider = (*FailoverProvider)(nil)
)

// FailoverProvider tries its providers in order until one succeeds. A
// cancelled context stops the chain.
type FailoverProvider struct {
	chain  []domain.LLMProvider
	logger *slog.Logger
}

// NewFailoverProvider tries primary first, then each fallback.
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		chain:  append([]domain.LLMProvider{primary}, fallbacks...),
		logger: logger,
	}
}

func (f *FailoverProvider) Name() string { return f.chain[0].Name() + "+failover" }

// Chat implements domain.LLMProvider.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for i, p := range f.chain {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("llm failover succeeded", "provider", p.Name())
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("llm provider failed", "provider", p.Name(), "error", err)
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// ChatStream opens a stream on the first provider that accepts one.
// Providers without streaming answer through Chat as a single delta.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	var errs []error
	for _, p := range f.chain {
		var (
			ch  <-chan domain.StreamDelta
			err error
		)
		if sp, ok := p.(domain.StreamingLLMProvider); ok {
			ch, err = sp.ChatStream(ctx, req)
		} else {
			var resp *domain.ChatResponse
			if resp, err = p.Chat(ctx, req); err == nil {
				ch = singleDelta(resp)
			}
		}
		if err == nil {
			return ch, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("llm stream failed", "provider", p.Name(), "error", err)
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}
