package security

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/logger"
	"clinicrew/internal/usecase/eventbus"
)

func readAudit(t *testing.T, path string) []domain.AuditEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var events []domain.AuditEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e domain.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		events = append(events, e)
	}
	return events
}

func TestFileAuditLogger_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")

	audit, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}
	event := domain.AuditEvent{
		Type:     domain.AuditToolExec,
		Actor:    "MedicalSecretary",
		Resource: "tool/save_patient_record",
		Detail:   map[string]string{"session": "ward-3"},
	}
	if err := audit.Log(context.Background(), event); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := audit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readAudit(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != domain.AuditToolExec || events[0].Actor != "MedicalSecretary" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp not filled in")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestFileAuditLogger_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			audit.Log(context.Background(), domain.AuditEvent{Type: domain.AuditSessionCreate})
		}()
	}
	wg.Wait()
	audit.Close()

	if n := len(readAudit(t, path)); n != 20 {
		t.Errorf("got %d lines, want 20", n)
	}
}

func TestFileAuditLogger_EnforceRetention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	audit.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionCreate, Timestamp: old})
	audit.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionDelete, Timestamp: old})
	audit.Log(ctx, domain.AuditEvent{Type: domain.AuditToolExec})

	removed, err := audit.EnforceRetention(24 * time.Hour)
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	// The logger keeps appending after the rewrite.
	if err := audit.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionCreate}); err != nil {
		t.Fatalf("Log after retention: %v", err)
	}
	audit.Close()

	events := readAudit(t, path)
	if len(events) != 2 || events[0].Type != domain.AuditToolExec {
		t.Errorf("unexpected events after retention: %+v", events)
	}
}

func TestFileAuditLogger_RetentionDisabled(t *testing.T) {
	audit, err := NewFileAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer audit.Close()
	if removed, err := audit.EnforceRetention(0); err != nil || removed != 0 {
		t.Errorf("EnforceRetention(0) = %d, %v", removed, err)
	}
}

func TestAuditEntry(t *testing.T) {
	tests := []struct {
		name    string
		event   domain.Event
		ok      bool
		typ     domain.AuditEventType
		actor   string
		outcome string
	}{
		{
			name:    "session created",
			event:   domain.NewEvent(domain.EventSessionCreated, "ward-3", nil),
			ok:      true,
			typ:     domain.AuditSessionCreate,
			outcome: "success",
		},
		{
			name:    "session deleted",
			event:   domain.NewEvent(domain.EventSessionDeleted, "ward-3", nil),
			ok:      true,
			typ:     domain.AuditSessionDelete,
			outcome: "success",
		},
		{
			name: "failed tool call",
			event: domain.NewEvent(domain.EventToolCallCompleted, "ward-3",
				domain.ToolCallPayload{Specialist: "MedicalSecretary", Tool: "add_clinical_note", IsError: true}),
			ok:      true,
			typ:     domain.AuditToolExec,
			actor:   "MedicalSecretary",
			outcome: "error",
		},
		{
			name:  "turn events are not audited",
			event: domain.NewEvent(domain.EventTurnCompleted, "ward-3", domain.TurnPayload{Specialist: "x", Turn: 1}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := auditEntry(tt.event)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Type != tt.typ || got.Actor != tt.actor || got.Outcome != tt.outcome {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestSubscribeAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New(logger.Discard())
	unsub := SubscribeAudit(bus, audit, logger.Discard())
	ctx := context.Background()
	bus.Publish(ctx, domain.NewEvent(domain.EventSessionCreated, "ward-3", nil))
	bus.Publish(ctx, domain.NewEvent(domain.EventRunStarted, "ward-3", domain.RunPayload{Kind: "plan"}))
	bus.Publish(ctx, domain.NewEvent(domain.EventToolCallCompleted, "ward-3",
		domain.ToolCallPayload{Specialist: "MedicalSecretary", Tool: "save_patient_record"}))
	bus.Wait()
	unsub()
	audit.Close()

	events := readAudit(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2: %+v", len(events), events)
	}
}
