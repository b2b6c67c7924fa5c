package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/tracer"
	"clinicrew/internal/usecase/knowledge"
)

// TermSearcher is the lookup side of knowledge.TermIndex.
type TermSearcher interface {
	Search(ctx context.Context, query string) (domain.TermMatch, error)
}

// PassageSearcher is the lookup side of knowledge.PassageIndex.
type PassageSearcher interface {
	Search(ctx context.Context, query string) ([]domain.PassageHit, error)
}

var querySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Term, abbreviation or clinical question to look up."}
	},
	"required": ["query"]
}`)

type queryParams struct {
	Query string `json:"query"`
}

// MedicalKnowledgeTool resolves abbreviations and terms against the term
// index. It never fails: any problem degrades to the NO MATCH text.
type MedicalKnowledgeTool struct {
	index  TermSearcher
	logger *slog.Logger
}

func NewMedicalKnowledgeTool(index TermSearcher, logger *slog.Logger) *MedicalKnowledgeTool {
	return &MedicalKnowledgeTool{index: index, logger: logger}
}

func (t *MedicalKnowledgeTool) Name() string { return "search_medical_knowledge" }
func (t *MedicalKnowledgeTool) Description() string {
	return "Look up a medical term or abbreviation. Returns CONFIRMED with the acronym to use, UNCERTAIN, or NO MATCH."
}

func (t *MedicalKnowledgeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: querySchema}
}

func (t *MedicalKnowledgeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	p, bad := ParseParams[queryParams](params)
	if bad != nil {
		t.logger.Warn("medical knowledge lookup with bad params", "error", bad.Content)
		return &domain.ToolResult{Content: domain.TermNoMatchText}, nil
	}
	return &domain.ToolResult{Content: t.SearchMedicalKnowledge(ctx, p.Query)}, nil
}

// SearchMedicalKnowledge returns the formatted verdict for query.
func (t *MedicalKnowledgeTool) SearchMedicalKnowledge(ctx context.Context, query string) string {
	ctx, span := tracer.StartSpan(ctx, "tool.search_medical_knowledge",
		trace.WithAttributes(tracer.StringAttr("query", query)))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return domain.TermNoMatchText
	}
	match, err := t.index.Search(ctx, query)
	if err != nil {
		tracer.RecordError(span, err)
		t.logger.Warn("medical knowledge lookup failed", "query", query, "error", err)
		return domain.TermNoMatchText
	}
	span.SetAttributes(tracer.StringAttr("tier", string(match.Tier)))
	tracer.SetOK(span)
	return match.Format()
}

// ClinicalGuidelinesTool retrieves guideline passages. Failures degrade to
// the no-guidelines marker.
type ClinicalGuidelinesTool struct {
	index  PassageSearcher
	logger *slog.Logger
}

func NewClinicalGuidelinesTool(index PassageSearcher, logger *slog.Logger) *ClinicalGuidelinesTool {
	return &ClinicalGuidelinesTool{index: index, logger: logger}
}

func (t *ClinicalGuidelinesTool) Name() string { return "search_clinical_guidelines" }
func (t *ClinicalGuidelinesTool) Description() string {
	return "Search the hospital clinical guidelines. Returns the most relevant passages with a relevance percentage."
}

func (t *ClinicalGuidelinesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: querySchema}
}

func (t *ClinicalGuidelinesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	p, bad := ParseParams[queryParams](params)
	if bad != nil {
		t.logger.Warn("guideline search with bad params", "error", bad.Content)
		return &domain.ToolResult{Content: knowledge.NoGuidelinesText}, nil
	}
	return &domain.ToolResult{Content: t.SearchClinicalGuidelines(ctx, p.Query)}, nil
}

// SearchClinicalGuidelines returns the formatted passages for query.
func (t *ClinicalGuidelinesTool) SearchClinicalGuidelines(ctx context.Context, query string) string {
	ctx, span := tracer.StartSpan(ctx, "tool.search_clinical_guidelines",
		trace.WithAttributes(tracer.StringAttr("query", query)))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return knowledge.NoGuidelinesText
	}
	hits, err := t.index.Search(ctx, query)
	if err != nil {
		tracer.RecordError(span, err)
		t.logger.Warn("guideline search failed", "query", query, "error", err)
		return knowledge.NoGuidelinesText
	}
	span.SetAttributes(tracer.IntAttr("hits", len(hits)))
	tracer.SetOK(span)
	return knowledge.FormatPassages(hits)
}
