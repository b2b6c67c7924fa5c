package embedding

import (
	"container/list"
	"context"
	"sync"

	"clinicrew/internal/domain"
)

var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)

type cacheEntry struct {
	text string
	vec  []float32
}

// CachedEmbedder memoizes vectors per text with least-recently-used
// eviction. Only the uncached texts of a batch reach the inner provider.
type CachedEmbedder struct {
	inner domain.EmbeddingProvider
	size  int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

// NewCachedEmbedder wraps inner. A size <= 0 returns inner unchanged.
func NewCachedEmbedder(inner domain.EmbeddingProvider, size int) domain.EmbeddingProvider {
	if size <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		size:    size,
		entries: make(map[string]*list.Element, size),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var slots []int

	c.mu.Lock()
	for i, t := range texts {
		if el, ok := c.entries[t]; ok {
			c.order.MoveToFront(el)
			out[i] = el.Value.(*cacheEntry).vec
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if err := checkCount(len(vecs), len(missing)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, v := range vecs {
		out[slots[j]] = v
		c.put(missing[j], v)
	}
	return out, nil
}

// put must be called with mu held.
func (c *CachedEmbedder) put(text string, vec []float32) {
	if el, ok := c.entries[text]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.size {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cacheEntry).text)
	}
	c.entries[text] = c.order.PushFront(&cacheEntry{text: text, vec: vec})
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *CachedEmbedder) Name() string    { return c.inner.Name() }
