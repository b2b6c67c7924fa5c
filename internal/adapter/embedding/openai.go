package embedding

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"strings"

	"clinicrew/internal/domain"
)

var _ domain.EmbeddingProvider = (*OpenAIEmbedder)(nil)

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIEmbedder) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOpenAIDimensions requests shortened vectors from models that support it.
func WithOpenAIDimensions(dims int) OpenAIOption {
	return func(p *OpenAIEmbedder) {
		if dims > 0 {
			p.dims = dims
		}
	}
}

func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(p *OpenAIEmbedder) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithOpenAIClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIEmbedder) { p.client = c }
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey  string
	model   string
	dims    int
	baseURL string
	client  *http.Client
}

func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) *OpenAIEmbedder {
	p := &OpenAIEmbedder{
		apiKey:  apiKey,
		model:   "text-embedding-3-small",
		dims:    1536,
		baseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type openaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type openaiEmbedResponse struct {
	Data []openaiEmbedding `json:"data"`
}

// Embed implements domain.EmbeddingProvider.
func (p *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp openaiEmbedResponse
	req := openaiEmbedRequest{Model: p.model, Input: texts}
	if strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dims
	}
	if err := postEmbed(ctx, p.client, p.baseURL+"/embeddings", p.apiKey, req, &resp); err != nil {
		return nil, err
	}
	if err := checkCount(len(resp.Data), len(texts)); err != nil {
		return nil, err
	}

	slices.SortFunc(resp.Data, func(a, b openaiEmbedding) int { return cmp.Compare(a.Index, b.Index) })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *OpenAIEmbedder) Dimensions() int { return p.dims }
func (p *OpenAIEmbedder) Name() string    { return "openai" }
