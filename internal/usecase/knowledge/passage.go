package knowledge

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/tracer"
)

// Passage index defaults.
const (
	DefaultChunkSize        = 80
	DefaultChunkOverlap     = 20
	DefaultMinChunkWords    = 10
	DefaultPassageThreshold = 0.60
	DefaultTopK             = 3
)

// NoGuidelinesText is returned when no passage clears the threshold.
const NoGuidelinesText = "NO RELEVANT GUIDELINES FOUND. Rely on clinical judgment and do not cite guidelines."

// PassageIndex answers top-K queries over chunked guideline documents.
type PassageIndex struct {
	embedder  domain.EmbeddingProvider
	logger    *slog.Logger
	bus       domain.EventBus
	size      int
	overlap   int
	minWords  int
	threshold float64
	topK      int

	mu     sync.Mutex // serialises Initialize
	ready  atomic.Bool
	chunks []domain.IndexedChunk
}

// PassageOption configures a PassageIndex.
type PassageOption func(*PassageIndex)

// WithChunking sets the window size, overlap and the minimum length of the
// trailing window.
func WithChunking(size, overlap, minWords int) PassageOption {
	return func(pi *PassageIndex) {
		pi.size = size
		pi.overlap = overlap
		pi.minWords = minWords
	}
}

// WithPassageThreshold sets the inclusive similarity cutoff.
func WithPassageThreshold(t float64) PassageOption {
	return func(pi *PassageIndex) { pi.threshold = t }
}

// WithTopK caps the number of passages returned.
func WithTopK(k int) PassageOption {
	return func(pi *PassageIndex) { pi.topK = k }
}

// WithPassageEvents publishes a retrieval event for every scored search.
func WithPassageEvents(bus domain.EventBus) PassageOption {
	return func(pi *PassageIndex) { pi.bus = bus }
}

// NewPassageIndex creates an empty, uninitialised index.
func NewPassageIndex(embedder domain.EmbeddingProvider, logger *slog.Logger, opts ...PassageOption) *PassageIndex {
	pi := &PassageIndex{
		embedder:  embedder,
		logger:    logger,
		size:      DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		minWords:  DefaultMinChunkWords,
		threshold: DefaultPassageThreshold,
		topK:      DefaultTopK,
	}
	for _, opt := range opts {
		opt(pi)
	}
	return pi
}

// Initialize chunks and embeds the document at path. Calling it again after
// a successful build is a no-op.
func (pi *PassageIndex) Initialize(ctx context.Context, path string) error {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.ready.Load() {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.NewDomainError("PassageIndex.Initialize", domain.ErrKnowledgeSource, err.Error())
	}

	texts := Chunk(string(data), pi.size, pi.overlap, pi.minWords)
	vectors, err := embedAll(ctx, pi.embedder, texts)
	if err != nil {
		return domain.WrapOp("PassageIndex.Initialize", err)
	}

	chunks := make([]domain.IndexedChunk, len(texts))
	for i := range texts {
		chunks[i] = domain.IndexedChunk{Text: texts[i], Embedding: vectors[i]}
	}
	pi.chunks = chunks
	pi.ready.Store(true)

	pi.logger.Info("passage index ready", "path", path, "chunks", len(chunks))
	return nil
}

// Ready reports whether Initialize has completed.
func (pi *PassageIndex) Ready() bool { return pi.ready.Load() }

// Len returns the number of indexed chunks.
func (pi *PassageIndex) Len() int {
	if !pi.ready.Load() {
		return 0
	}
	return len(pi.chunks)
}

// Search returns at most topK passages scoring at or above the threshold,
// best first. Equal scores keep document order. An empty query or an
// uninitialised index returns no hits without calling the embedder.
func (pi *PassageIndex) Search(ctx context.Context, query string) ([]domain.PassageHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || !pi.ready.Load() || len(pi.chunks) == 0 {
		return nil, nil
	}

	ctx, span := tracer.StartSpan(ctx, "knowledge.passage.search")
	defer span.End()
	start := time.Now()

	qv, err := embedOne(ctx, pi.embedder, query)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("PassageIndex.Search", err)
	}

	var hits []domain.PassageHit
	for _, c := range pi.chunks {
		score := Cosine(qv, c.Embedding)
		if score < pi.threshold {
			continue
		}
		hits = append(hits, domain.PassageHit{Text: c.Text, Score: score, Relevance: int(score * 100)})
	}
	slices.SortStableFunc(hits, func(a, b domain.PassageHit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(hits) > pi.topK {
		hits = hits[:pi.topK]
	}

	span.SetAttributes(tracer.IntAttr("hits", len(hits)))
	tracer.SetOK(span)

	if pi.bus != nil {
		pi.bus.Publish(ctx, domain.NewEvent(domain.EventRetrievalSearch, domain.SessionIDFromContext(ctx),
			domain.RetrievalPayload{Index: "passage", Hits: len(hits), Seconds: time.Since(start).Seconds()}))
	}
	return hits, nil
}

// FormatPassages renders hits as numbered blocks, or the no-guidelines
// marker when there are none.
func FormatPassages(hits []domain.PassageHit) string {
	if len(hits) == 0 {
		return NoGuidelinesText
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Passage %d | Relevance: %d%%]\n%s", i+1, h.Relevance, h.Text)
	}
	return b.String()
}
