package domain

import "fmt"

// MedicalEntry is one record of the term knowledge base.
type MedicalEntry struct {
	MainTerm string   `json:"main_term"`
	Acronym  string   `json:"acronym"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// IndexedChunk is an embedded word window of a guideline document.
type IndexedChunk struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// MatchTier is the confidence classification of a term lookup.
type MatchTier string

const (
	TierConfirmed MatchTier = "CONFIRMED"
	TierUncertain MatchTier = "UNCERTAIN"
	TierNoMatch   MatchTier = "NO MATCH"
)

// TermMatch is the result of a term index search. Entry is nil for NO MATCH
// results produced without scoring (empty query, empty index).
type TermMatch struct {
	Query string        `json:"query"`
	Tier  MatchTier     `json:"tier"`
	Score float64       `json:"score"`
	Entry *MedicalEntry `json:"entry,omitempty"`
}

// TermNoMatchText is the tool text for NO MATCH results and lookup failures.
const TermNoMatchText = "NO MATCH. Use the original text verbatim."

// Format renders the match as the text returned to the calling model.
func (m TermMatch) Format() string {
	switch {
	case m.Tier == TierConfirmed && m.Entry != nil:
		return fmt.Sprintf("CONFIRMED: %s (Source: %s)\nUse the acronym %q in the record.",
			m.Entry.Acronym, m.Entry.MainTerm, m.Entry.Acronym)
	case m.Tier == TierUncertain && m.Entry != nil:
		return fmt.Sprintf("UNCERTAIN: possible match %q (%d%% confidence). Use the original text verbatim.",
			m.Entry.MainTerm, int(m.Score*100))
	default:
		return TermNoMatchText
	}
}

// PassageHit is one passage returned by a guideline search.
type PassageHit struct {
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Relevance int     `json:"relevance"`
}
