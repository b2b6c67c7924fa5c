package orchestrator

import "strings"

// DefaultDirectiveDone is the reply requested once the directive's tools ran.
const DefaultDirectiveDone = "PATIENT DATA SAVED"

// DirectiveRule rewrites the context handed from one specialist to the next
// into an explicit ordered tool instruction.
type DirectiveRule struct {
	From  string   // previous specialist
	To    string   // specialist receiving the directive
	Tools []string // tools to call, in order
	Done  string   // reply expected when finished
}

// Applies reports whether the rule fires for the transition prev → current.
func (d DirectiveRule) Applies(prev, current string) bool {
	return d.From != "" && d.To != "" && prev == d.From && current == d.To && len(d.Tools) > 0
}

// Render wraps handoff in the directive text.
func (d DirectiveRule) Render(handoff string) string {
	done := d.Done
	if done == "" {
		done = DefaultDirectiveDone
	}
	var sb strings.Builder
	sb.WriteString("You must now call tool ")
	sb.WriteString(strings.Join(d.Tools, ", then "))
	sb.WriteString(", using the data below. When finished reply with ")
	sb.WriteString(done)
	sb.WriteString(".\n\n")
	sb.WriteString(handoff)
	return sb.String()
}
