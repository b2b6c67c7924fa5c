package llm

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
)

var (
	_ domain.LLMProvider          = (*OllamaProvider)(nil)
	_ domain.StreamingLLMProvider = (*OllamaProvider)(nil)
)

// Local servers connect fast but may need minutes to load a model.
const (
	ollamaConnTimeout = 5 * time.Second
	ollamaRespTimeout = 300 * time.Second
	ollamaBaseURL     = "http://localhost:11434"
)

// OllamaProvider chats through Ollama's OpenAI-compatible /v1 endpoint and
// uses the native API for health checks and model warmup.
type OllamaProvider struct {
	*OpenAIProvider
	nativeURL string
}

// NewOllamaProvider creates a provider for a local or remote Ollama server.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	cfg.ConnTimeout = cmpDuration(cfg.ConnTimeout, ollamaConnTimeout)
	cfg.RespTimeout = cmpDuration(cfg.RespTimeout, ollamaRespTimeout)
	native := strings.TrimRight(cmp.Or(cfg.BaseURL, ollamaBaseURL), "/")
	native = strings.TrimSuffix(native, "/v1")

	return &OllamaProvider{
		OpenAIProvider: &OpenAIProvider{
			name:    cmp.Or(cfg.Name, "ollama"),
			model:   cfg.Model,
			baseURL: native + "/v1",
			client:  NewHTTPClient(cfg),
			logger:  logger,
		},
		nativeURL: native,
	}
}

// Ping reports whether the server answers.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.nativeURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", p.nativeURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama at %s: status %d", p.nativeURL, resp.StatusCode)
	}
	return nil
}

// Models lists the model names available on the server.
func (p *OllamaProvider) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.nativeURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, data)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Warmup loads the configured model so the first specialist turn does not
// pay the load latency.
func (p *OllamaProvider) Warmup(ctx context.Context) error {
	if err := p.Ping(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"model": p.model, "keep_alive": "10m"})
	start := time.Now()
	if _, err := postJSON(ctx, p.client, p.nativeURL+"/api/generate", body, nil); err != nil {
		return fmt.Errorf("warmup %s: %w", p.model, err)
	}
	p.logger.Info("ollama model warmed up", "model", p.model, "elapsed", time.Since(start))
	return nil
}
