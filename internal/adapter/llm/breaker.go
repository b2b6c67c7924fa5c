package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerInterval = 60 * time.Second
)

var (
	_ domain.LLMProvider          = (*BreakerProvider)(nil)
	_ domain.StreamingLLMProvider = (*BreakerProvider)(nil)
)

// BreakerProvider fails fast while its provider keeps failing. Only
// transient failures count against the breaker.
type BreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerProvider wraps inner. Zero config fields take defaults.
func NewBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerProvider {
	failures := cfg.MaxFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	settings := gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    cmpDuration(cfg.Interval, defaultBreakerInterval),
		Timeout:     cmpDuration(cfg.Timeout, defaultBreakerTimeout),
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures },
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRetryableError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerProvider{inner: inner, breaker: gobreaker.NewCircuitBreaker[any](settings)}
}

func (p *BreakerProvider) Name() string { return p.inner.Name() }

// State exposes the breaker state for health reporting.
func (p *BreakerProvider) State() gobreaker.State { return p.breaker.State() }

// Chat implements domain.LLMProvider.
func (p *BreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return out.(*domain.ChatResponse), nil
}

// ChatStream guards stream setup only. Errors after the stream opened are
// not seen by the breaker.
func (p *BreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingLLMProvider)
	if !ok {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return singleDelta(resp), nil
	}
	out, err := p.breaker.Execute(func() (any, error) {
		return sp.ChatStream(ctx, req)
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return out.(<-chan domain.StreamDelta), nil
}

func (p *BreakerProvider) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: provider %q: %w", domain.ErrProviderError, p.inner.Name(), err)
	}
	return err
}

// singleDelta replays a complete response as a one-delta stream.
func singleDelta(resp *domain.ChatResponse) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 1)
	usage := resp.Usage
	ch <- domain.StreamDelta{
		Content:   resp.Message.Content,
		ToolCalls: resp.Message.ToolCalls,
		Usage:     &usage,
		Done:      true,
	}
	close(ch)
	return ch
}
