package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/tracer"
)

// Default term match cutoffs.
const (
	DefaultConfirmThreshold   = 0.85
	DefaultUncertainThreshold = 0.60
)

// TermIndex resolves free-text clinical terms to canonical acronyms. It keeps
// one vector per entry, built from the main term and its synonyms.
type TermIndex struct {
	embedder  domain.EmbeddingProvider
	logger    *slog.Logger
	bus       domain.EventBus
	confirm   float64
	uncertain float64

	mu      sync.Mutex // serialises Initialize
	ready   atomic.Bool
	entries []domain.MedicalEntry
	vectors [][]float32
}

// TermOption configures a TermIndex.
type TermOption func(*TermIndex)

// WithTermThresholds overrides the CONFIRMED and UNCERTAIN cutoffs.
func WithTermThresholds(confirm, uncertain float64) TermOption {
	return func(ti *TermIndex) {
		ti.confirm = confirm
		ti.uncertain = uncertain
	}
}

// WithTermEvents publishes a retrieval event for every scored search.
func WithTermEvents(bus domain.EventBus) TermOption {
	return func(ti *TermIndex) { ti.bus = bus }
}

// NewTermIndex creates an empty, uninitialised index.
func NewTermIndex(embedder domain.EmbeddingProvider, logger *slog.Logger, opts ...TermOption) *TermIndex {
	ti := &TermIndex{
		embedder:  embedder,
		logger:    logger,
		confirm:   DefaultConfirmThreshold,
		uncertain: DefaultUncertainThreshold,
	}
	for _, opt := range opts {
		opt(ti)
	}
	return ti
}

// Initialize loads the pipe-delimited knowledge file at path and embeds every
// entry. Calling it again after a successful build is a no-op.
func (ti *TermIndex) Initialize(ctx context.Context, path string) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if ti.ready.Load() {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.NewDomainError("TermIndex.Initialize", domain.ErrKnowledgeSource, err.Error())
	}

	var entries []domain.MedicalEntry
	skipped := 0
	lineNo := 0
	for line := range strings.Lines(string(data)) {
		lineNo++
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		entry, ok := ParseTermLine(trimmed)
		if !ok {
			skipped++
			ti.logger.Warn("skipping malformed term line", "path", path, "line", lineNo)
			continue
		}
		entries = append(entries, entry)
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = embeddingText(e)
	}
	vectors, err := embedAll(ctx, ti.embedder, texts)
	if err != nil {
		return domain.WrapOp("TermIndex.Initialize", err)
	}

	ti.entries = entries
	ti.vectors = vectors
	ti.ready.Store(true)

	ti.logger.Info("term index ready", "path", path, "entries", len(entries), "skipped", skipped)
	return nil
}

// ParseTermLine parses "MainTerm | Acronym | Synonym1, Synonym2". It reports
// false for lines with fewer than two fields or an empty term or acronym.
// Fields after the third are treated as further synonym lists.
func ParseTermLine(line string) (domain.MedicalEntry, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return domain.MedicalEntry{}, false
	}
	entry := domain.MedicalEntry{
		MainTerm: strings.TrimSpace(parts[0]),
		Acronym:  strings.TrimSpace(parts[1]),
	}
	if entry.MainTerm == "" || entry.Acronym == "" {
		return domain.MedicalEntry{}, false
	}
	for _, field := range parts[2:] {
		for syn := range strings.SplitSeq(field, ",") {
			if syn = strings.TrimSpace(syn); syn != "" {
				entry.Synonyms = append(entry.Synonyms, syn)
			}
		}
	}
	return entry, true
}

func embeddingText(e domain.MedicalEntry) string {
	return strings.Join(append([]string{e.MainTerm}, e.Synonyms...), " ")
}

// Ready reports whether Initialize has completed.
func (ti *TermIndex) Ready() bool { return ti.ready.Load() }

// Len returns the number of indexed entries.
func (ti *TermIndex) Len() int {
	if !ti.ready.Load() {
		return 0
	}
	return len(ti.entries)
}

// Entries returns a copy of the indexed entries in file order.
func (ti *TermIndex) Entries() []domain.MedicalEntry {
	if !ti.ready.Load() {
		return nil
	}
	out := make([]domain.MedicalEntry, len(ti.entries))
	copy(out, ti.entries)
	return out
}

// Classify maps a similarity score to a tier using the index thresholds.
// Both cutoffs are inclusive.
func (ti *TermIndex) Classify(score float64) domain.MatchTier {
	return Classify(score, ti.confirm, ti.uncertain)
}

// Classify maps a similarity score to a tier. Both cutoffs are inclusive.
func Classify(score, confirm, uncertain float64) domain.MatchTier {
	switch {
	case score >= confirm:
		return domain.TierConfirmed
	case score >= uncertain:
		return domain.TierUncertain
	default:
		return domain.TierNoMatch
	}
}

// Search returns the single best entry for query. An empty query or an
// uninitialised index yields NO MATCH without calling the embedder. When the
// query embedding fails the result is NO MATCH and the error is returned so
// the caller can log it and degrade.
func (ti *TermIndex) Search(ctx context.Context, query string) (domain.TermMatch, error) {
	query = strings.TrimSpace(query)
	result := domain.TermMatch{Query: query, Tier: domain.TierNoMatch}
	if query == "" || !ti.ready.Load() || len(ti.entries) == 0 {
		return result, nil
	}

	ctx, span := tracer.StartSpan(ctx, "knowledge.term.search")
	defer span.End()
	start := time.Now()

	qv, err := embedOne(ctx, ti.embedder, query)
	if err != nil {
		tracer.RecordError(span, err)
		return result, domain.WrapOp("TermIndex.Search", err)
	}

	best, bestScore := -1, 0.0
	for i, v := range ti.vectors {
		if s := Cosine(qv, v); best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}

	entry := ti.entries[best]
	result.Score = bestScore
	result.Entry = &entry
	result.Tier = ti.Classify(bestScore)

	span.SetAttributes(
		tracer.StringAttr("tier", string(result.Tier)),
		tracer.Float64Attr("score", bestScore),
	)
	tracer.SetOK(span)

	if ti.bus != nil {
		hits := 0
		if result.Tier != domain.TierNoMatch {
			hits = 1
		}
		ti.bus.Publish(ctx, domain.NewEvent(domain.EventRetrievalSearch, domain.SessionIDFromContext(ctx),
			domain.RetrievalPayload{Index: "term", Tier: string(result.Tier), Hits: hits, Seconds: time.Since(start).Seconds()}))
	}
	return result, nil
}
