package usecase

import (
	"testing"

	"clinicrew/internal/domain"
)

func TestContextBuilderSystemFirst(t *testing.T) {
	cb := NewContextBuilder("You are the extractor.", "gpt-4o-mini", 0).WithSampling(0.2, 512)
	req := cb.Build([]domain.Message{{Role: domain.RoleUser, Content: "hi"}}, []domain.ToolSchema{{Name: "t"}})

	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != domain.RoleSystem || req.Messages[0].Content != "You are the extractor." {
		t.Errorf("first message = %+v", req.Messages[0])
	}
	if req.Model != "gpt-4o-mini" || req.Temperature != 0.2 || req.MaxTokens != 512 || len(req.Tools) != 1 {
		t.Errorf("request fields = %+v", req)
	}
}

func TestContextBuilderNoInstructions(t *testing.T) {
	req := NewContextBuilder("", "", 0).Build([]domain.Message{{Role: domain.RoleUser, Content: "hi"}}, nil)
	if len(req.Messages) != 1 || req.Messages[0].Role != domain.RoleUser {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestContextBuilderWindowKeepsToolGroups(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "u0"},
		{Role: domain.RoleAssistant, Content: "a0"},
		{Role: domain.RoleUser, Content: "u1"},
		assistantCalls("c1", "c2"),
		toolResult("c1"),
		toolResult("c2"),
		{Role: domain.RoleAssistant, Content: "a1"},
	}
	// A window of 4 cannot hold the 3-message tool group plus u1, so it
	// keeps only the group and the final reply.
	req := NewContextBuilder("sys", "", 4).Build(history, nil)
	hist := req.Messages[1:]
	if len(hist) != 4 {
		t.Fatalf("history = %d, want 4", len(hist))
	}
	if len(hist[0].ToolCalls) != 2 {
		t.Errorf("window split the tool group: first = %+v", hist[0])
	}
	if hist[3].Content != "a1" {
		t.Errorf("last = %q, want a1", hist[3].Content)
	}
}

func TestContextBuilderRepairsTranscript(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "u0"},
		assistantCalls("lost"),
	}
	req := NewContextBuilder("", "", 0).Build(history, nil)
	if len(req.Messages) != 3 || req.Messages[2].Content != missingToolResult {
		t.Errorf("expected injected tool result, got %+v", req.Messages)
	}
}
