package embedding

import (
	"fmt"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
)

// New builds the configured embedder and wraps it in the LRU cache.
func New(cfg config.EmbeddingConfig) (domain.EmbeddingProvider, error) {
	var inner domain.EmbeddingProvider
	switch cfg.Provider {
	case "openai", "":
		inner = NewOpenAIEmbedder(cfg.APIKey,
			WithOpenAIModel(cfg.Model),
			WithOpenAIDimensions(cfg.Dimensions),
			WithOpenAIBaseURL(cfg.BaseURL),
		)
	case "ollama":
		inner = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "hashing":
		inner = NewHashingEmbedder(cfg.Dimensions)
	default:
		return nil, domain.NewDomainError("embedding.New", domain.ErrInvalidInput,
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider))
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
