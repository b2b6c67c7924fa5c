package llm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
)

// Registry holds named providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.LLMProvider)}
}

// Register adds p under its name.
func (r *Registry) Register(p domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; ok {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Get returns the provider registered as name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New builds one provider from its config entry.
func New(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	logger = logger.With("provider", cfg.Name)
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIProvider(cfg, logger), nil
	case "ollama":
		return NewOllamaProvider(cfg, logger), nil
	case "bedrock":
		return NewBedrockProvider(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider type %q", domain.ErrInvalidInput, cfg.Type)
	}
}

// Build creates every configured provider, each behind a circuit breaker
// when enabled.
func Build(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := New(ctx, pc, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Resolve returns the provider for name, or the default provider when name
// is empty. The default provider is wrapped with the configured fallbacks.
func (r *Registry) Resolve(cfg config.LLMConfig, name string, logger *slog.Logger) (domain.LLMProvider, error) {
	if name != "" && name != cfg.DefaultProvider {
		return r.Get(name)
	}
	primary, err := r.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, err
	}
	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return primary, nil
	}
	fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
	for _, fb := range cfg.Failover.Fallbacks {
		p, err := r.Get(fb)
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, p)
	}
	return NewFailoverProvider(primary, fallbacks, logger), nil
}
