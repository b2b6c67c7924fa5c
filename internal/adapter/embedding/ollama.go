package embedding

import (
	"context"
	"net/http"
	"strings"

	"clinicrew/internal/domain"
)

var _ domain.EmbeddingProvider = (*OllamaEmbedder)(nil)

// OllamaEmbedder calls the native Ollama /api/embed endpoint, which accepts a
// batch of inputs in one request.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllamaEmbedder accepts either the native root or the OpenAI-compatible
// /v1 URL of the server.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements domain.EmbeddingProvider.
func (p *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaEmbedResponse
	if err := postEmbed(ctx, p.client, p.baseURL+"/api/embed", "", ollamaEmbedRequest{Model: p.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if err := checkCount(len(resp.Embeddings), len(texts)); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (p *OllamaEmbedder) Dimensions() int { return p.dims }
func (p *OllamaEmbedder) Name() string    { return "ollama" }
