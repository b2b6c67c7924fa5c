package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/usecase/eventbus"
	"clinicrew/internal/usecase/roster"
)

func TestApplyOverrides(t *testing.T) {
	dir := t.TempDir()
	instr := filepath.Join(dir, "advisor.md")
	if err := os.WriteFile(instr, []byte("Answer briefly."), 0o600); err != nil {
		t.Fatal(err)
	}

	ids := roster.Specialists()
	got, err := applyOverrides(ids, []config.SpecialistConfig{
		{Name: roster.SemanticMedicalAdvisor, Provider: "local", Model: "llama3", MaxIterations: 4, InstructionsFile: instr},
	})
	if err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}

	var advisor domain.SpecialistIdentity
	for _, id := range got {
		if id.Name == roster.SemanticMedicalAdvisor {
			advisor = id
		}
	}
	if advisor.Provider != "local" || advisor.Model != "llama3" || advisor.MaxIter != 4 {
		t.Errorf("override not applied: %+v", advisor)
	}
	if advisor.Instructions != "Answer briefly." {
		t.Errorf("Instructions = %q", advisor.Instructions)
	}
	if !slices.Equal(advisor.Tools, ids[1].Tools) {
		t.Errorf("tools changed: %v", advisor.Tools)
	}
	// The input slice is untouched.
	if ids[1].Model != "" {
		t.Errorf("input mutated: %+v", ids[1])
	}
}

func TestApplyOverrides_UnknownSpecialist(t *testing.T) {
	_, err := applyOverrides(roster.Specialists(), []config.SpecialistConfig{{Name: "Radiologist"}})
	if !errors.Is(err, domain.ErrSpecialistNotFound) {
		t.Fatalf("expected ErrSpecialistNotFound, got %v", err)
	}
}

func TestApplyOverrides_MissingInstructionsFile(t *testing.T) {
	_, err := applyOverrides(roster.Specialists(), []config.SpecialistConfig{
		{Name: roster.MedicalSecretary, InstructionsFile: filepath.Join(t.TempDir(), "missing.md")},
	})
	if err == nil {
		t.Fatal("expected error for missing instructions file")
	}
}

func TestOrchestratorOptions(t *testing.T) {
	base := config.OrchestratorConfig{MaxTurns: 5, HistoryCap: 20}
	if n := len(orchestratorOptions(base, nil)); n != 4 {
		t.Errorf("base options = %d, want 4", n)
	}

	full := base
	full.DirectSpecialist = roster.MedicalSecretary
	full.Directive = true
	full.TerminationPhrases = []string{"DONE"}
	if n := len(orchestratorOptions(full, nil)); n != 7 {
		t.Errorf("full options = %d, want 7", n)
	}
}

func TestAskInput(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{"args", []string{"heart", "failure"}, "", "heart failure", false},
		{"stdin", nil, "  ward note\n", "ward note", false},
		{"args win over stdin", []string{"x"}, "ignored", "x", false},
		{"empty", nil, "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := askInput(tt.args, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintMessages(t *testing.T) {
	seq := func(yield func(domain.AgentMessage) bool) {
		msgs := []domain.AgentMessage{
			{Author: "SemanticMedicalAdvisor", Text: "Start ", IsStreaming: true},
			{Author: "SemanticMedicalAdvisor", Text: "SGLT2", IsStreaming: true},
			{Author: "SemanticMedicalAdvisor", Text: "Start SGLT2\n", IsComplete: true},
			domain.SystemMessage("Maximum turns reached."),
		}
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}

	var buf bytes.Buffer
	if err := printMessages(&buf, seq); err != nil {
		t.Fatal(err)
	}
	want := "[SemanticMedicalAdvisor]\nStart SGLT2\n\n[System]\nMaximum turns reached.\n\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestChatLogOutput(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Path = filepath.Join("var", "db", "clinicrew.db")
	chatLogOutput(cfg)
	if cfg.Logger.Output != filepath.Join("var", "db", "chat.log") {
		t.Errorf("Output = %q", cfg.Logger.Output)
	}

	cfg.Logger.Output = "/tmp/custom.log"
	chatLogOutput(cfg)
	if cfg.Logger.Output != "/tmp/custom.log" {
		t.Errorf("file output overridden: %q", cfg.Logger.Output)
	}
}

func TestInitAudit(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := eventbus.New(log)
	defer bus.Close()

	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	closeAudit, err := initAudit(config.AuditConfig{Enabled: true, Path: path}, bus, log)
	if err != nil {
		t.Fatalf("initAudit: %v", err)
	}

	ctx := context.Background()
	bus.Publish(ctx, domain.NewEvent(domain.EventSessionCreated, "s1", nil))
	bus.Publish(ctx, domain.NewEvent(domain.EventToolCallCompleted, "s1",
		domain.ToolCallPayload{Specialist: roster.SemanticMedicalAdvisor, Tool: "medical_knowledge"}))
	bus.Wait()
	closeAudit()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("audit lines = %d, want 2:\n%s", len(lines), data)
	}
	if !strings.Contains(string(data), `"resource":"tool/medical_knowledge"`) {
		t.Errorf("no tool entry in:\n%s", data)
	}
}
