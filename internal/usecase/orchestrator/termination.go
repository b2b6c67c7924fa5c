package orchestrator

import "strings"

// DefaultTerminationPhrases end a run when they appear in a specialist's reply.
var DefaultTerminationPhrases = []string{
	"PATIENT DATA SAVED",
	"task complete",
	"report saved",
	"analysis complete",
	"information retrieved",
}

// userQuestionPhrases mark a reply that waits on the user.
var userQuestionPhrases = []string{
	"please confirm",
	"do you want",
	"would you like",
	"should i",
}

// Terminator spots completion phrases in free text.
type Terminator struct {
	phrases []string
	lowered []string
}

// NewTerminator uses phrases, or DefaultTerminationPhrases when none are given.
func NewTerminator(phrases ...string) *Terminator {
	if len(phrases) == 0 {
		phrases = DefaultTerminationPhrases
	}
	t := &Terminator{}
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			t.phrases = append(t.phrases, p)
			t.lowered = append(t.lowered, strings.ToLower(p))
		}
	}
	return t
}

// Match returns the first phrase found in text, ignoring case.
func (t *Terminator) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for i, p := range t.lowered {
		if strings.Contains(lower, p) {
			return t.phrases[i], true
		}
	}
	return "", false
}

// IsTermination reports whether text contains a completion phrase.
func (t *Terminator) IsTermination(text string) bool {
	_, ok := t.Match(text)
	return ok
}

// IsUserQuestion reports whether text asks the user for a decision.
func IsUserQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range userQuestionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
