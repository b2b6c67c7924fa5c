package domain

import (
	"context"
	"iter"
)

// Reserved authors for orchestration messages that do not come from a specialist.
const (
	AuthorUser   = "User"
	AuthorSystem = "System"
)

// AgentMessage is one event in an orchestration stream.
//
// For a single specialist turn, zero or more IsStreaming chunks precede exactly
// one IsComplete message carrying the full text. A turn that produced no text
// emits no complete message.
type AgentMessage struct {
	Author      string `json:"author"`
	Text        string `json:"text"`
	IsStreaming bool   `json:"is_streaming"`
	IsComplete  bool   `json:"is_complete"`
}

// SystemMessage builds a complete message authored by the orchestrator itself.
func SystemMessage(text string) AgentMessage {
	return AgentMessage{Author: AuthorSystem, Text: text, IsComplete: true}
}

// Thread is the shared conversational memory of one session.
// Implementations must be safe for concurrent use.
type Thread interface {
	ID() string
	Append(msgs ...Message)
	Messages() []Message
	Len() int
	Replace(msgs []Message)
}

// Specialist is a named, instructed conversational unit that streams text
// against a shared thread.
type Specialist interface {
	Name() string
	// Invoke appends prompt to thread and streams the reply text in chunks.
	// A failure is yielded once as ("", err) and ends the sequence. Stopping
	// iteration early abandons the in-flight model call.
	Invoke(ctx context.Context, thread Thread, prompt string) iter.Seq2[string, error]
	// NewThread returns an empty thread suitable for this specialist's runtime.
	NewThread() Thread
}

// SpecialistIdentity describes a specialist's static configuration.
type SpecialistIdentity struct {
	Name         string   `json:"name"                 yaml:"name"`
	Description  string   `json:"description"          yaml:"description"`
	Instructions string   `json:"instructions"         yaml:"instructions"`
	Model        string   `json:"model,omitempty"      yaml:"model,omitempty"`
	Provider     string   `json:"provider,omitempty"   yaml:"provider,omitempty"`
	Tools        []string `json:"tools,omitempty"      yaml:"tools,omitempty"`
	MaxIter      int      `json:"max_iter,omitempty"   yaml:"max_iter,omitempty"`
}
