package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
)

type countingEmbedder struct {
	calls atomic.Int64
	texts atomic.Int64
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return 2 }
func (e *countingEmbedder) Name() string    { return "counting" }

func TestOpenAIEmbedder(t *testing.T) {
	var got openaiEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-x", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		// Out of order on purpose.
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-x", WithOpenAIBaseURL(srv.URL+"/v1/"), WithOpenAIDimensions(2))
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, 2, got.Dimensions)
	assert.Equal(t, 2, e.Dimensions())
}

func TestOpenAIEmbedderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer short" {
			fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1]}]}`)
			return
		}
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder("k", WithOpenAIBaseURL(srv.URL)).Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "401")

	_, err = NewOpenAIEmbedder("short", WithOpenAIBaseURL(srv.URL)).Embed(context.Background(), []string{"x", "y"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Len(t, req.Input, 2)
		fmt.Fprint(w, `{"embeddings":[[1,2],[3,4]]}`)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/v1", "", 2)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, vecs)
	assert.Equal(t, "ollama", e.Name())
}

func TestCachedEmbedderOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 3).(*CachedEmbedder)
	ctx := context.Background()

	_, err := c.Embed(ctx, []string{"hta"})
	require.NoError(t, err)
	vecs, err := c.Embed(ctx, []string{"dm2", "hta", "epoc"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
	assert.Equal(t, int64(3), inner.texts.Load())
	assert.Equal(t, [][]float32{{3, 1}, {3, 1}, {4, 1}}, vecs)
	assert.Equal(t, 3, c.Len())
}

func TestCachedEmbedderEvictsLeastRecent(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 2).(*CachedEmbedder)
	ctx := context.Background()

	for _, s := range []string{"a", "b", "a", "c"} {
		_, err := c.Embed(ctx, []string{s})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.calls.Load())

	// "b" was evicted; "a" was refreshed before "c" arrived.
	_, _ = c.Embed(ctx, []string{"a"})
	assert.Equal(t, int64(3), inner.calls.Load())
	_, _ = c.Embed(ctx, []string{"b"})
	assert.Equal(t, int64(4), inner.calls.Load())
}

func TestCachedEmbedderDisabled(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, domain.EmbeddingProvider(inner), NewCachedEmbedder(inner, 0))
}

type failingEmbedder struct{ countingEmbedder }

func (f *failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("down")
}

func TestCachedEmbedderDoesNotCacheFailures(t *testing.T) {
	c := NewCachedEmbedder(&failingEmbedder{}, 4).(*CachedEmbedder)
	_, err := c.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
	assert.Zero(t, c.Len())
}

func TestHashingEmbedder(t *testing.T) {
	h := NewHashingEmbedder(256)
	vecs, err := h.Embed(context.Background(), []string{
		"Hipertensión arterial",
		"hipertension arterial",
		"insuficiencia renal crónica",
		"",
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, dot(vecs[0], vecs[1]), 1e-5, "accent folding should give identical vectors")
	assert.InDelta(t, 1.0, dot(vecs[2], vecs[2]), 1e-5)
	assert.Less(t, dot(vecs[0], vecs[2]), 0.5)
	assert.Zero(t, dot(vecs[3], vecs[3]))
	assert.Len(t, vecs[0], 256)
}

func TestHashingEmbedderCloseSpellings(t *testing.T) {
	h := NewHashingEmbedder(0)
	vecs, _ := h.Embed(context.Background(), []string{"diabetes mellitus", "diabetis melitus", "fractura de cadera"})
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
	assert.Equal(t, defaultHashingDims, h.Dimensions())
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"insuficiencia", "cardiaca", "nyha", "iii"}, tokens("Insuficiencia cardíaca (NYHA-III)."))
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{"openai", "openai", false},
		{"", "openai", false},
		{"ollama", "ollama", false},
		{"hashing", "hashing", false},
		{"word2vec", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			e, err := New(config.EmbeddingConfig{Provider: tt.provider, CacheSize: 8})
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, e.Name())
			assert.IsType(t, &CachedEmbedder{}, e)
		})
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
