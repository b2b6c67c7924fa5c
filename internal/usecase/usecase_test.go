package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"clinicrew/internal/domain"
)

// --- Mocks ---

type mockLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	errs      []error // consumed before responses, one per call
	requests  []domain.ChatRequest
	callIdx   int
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if m.callIdx >= len(m.responses) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	resp := m.responses[m.callIdx]
	m.callIdx++
	return &resp, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockStreamLLM streams each scripted turn as the given content chunks.
type mockStreamLLM struct {
	mockLLM
	chunks [][]string
	sent   int
	mu2    sync.Mutex
}

func (m *mockStreamLLM) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu2.Lock()
	turn := m.sent
	m.sent++
	m.mu2.Unlock()

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	var chunks []string
	if turn < len(m.chunks) {
		chunks = m.chunks[turn]
	}
	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- domain.StreamDelta{Content: c}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- domain.StreamDelta{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

type mockToolExecutor struct {
	tools   map[string]domain.Tool
	schemas []domain.ToolSchema
}

func (m *mockToolExecutor) Get(name string) (domain.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return t, nil
}

func (m *mockToolExecutor) Schemas() []domain.ToolSchema { return m.schemas }

type staticTool struct {
	name   string
	result string
	mu     sync.Mutex
	args   []string
}

func (t *staticTool) Name() string        { return t.name }
func (t *staticTool) Description() string { return "static test tool" }
func (t *staticTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description()}
}
func (t *staticTool) Execute(_ context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.args = append(t.args, string(args))
	t.mu.Unlock()
	return &domain.ToolResult{Content: t.result}, nil
}

type errorTool struct {
	name string
}

func (t *errorTool) Name() string        { return t.name }
func (t *errorTool) Description() string { return "error test tool" }
func (t *errorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *errorTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	return nil, errors.New("disk full")
}

type panicTool struct {
	name string
}

func (t *panicTool) Name() string        { return t.name }
func (t *panicTool) Description() string { return "panicking test tool" }
func (t *panicTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *panicTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	panic("index out of range")
}

func newTestToolExecutor() *mockToolExecutor {
	return &mockToolExecutor{
		tools: map[string]domain.Tool{
			"search_medical_knowledge":   &staticTool{name: "search_medical_knowledge", result: "CONFIRMED: HTA"},
			"search_clinical_guidelines": &staticTool{name: "search_clinical_guidelines", result: "[Passage 1]"},
			"save_patient_record":        &errorTool{name: "save_patient_record"},
		},
		schemas: []domain.ToolSchema{
			{Name: "search_medical_knowledge", Description: "Look up terms"},
			{Name: "search_clinical_guidelines", Description: "Search guidelines"},
			{Name: "save_patient_record", Description: "Save a record"},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
