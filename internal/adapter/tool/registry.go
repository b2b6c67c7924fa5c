package tool

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"clinicrew/internal/domain"
)

var _ domain.ToolExecutor = (*Registry)(nil)

// Registry holds named tools. Every tool is wrapped with schema validation on
// registration; a schema that fails to compile is logged and the tool is kept
// unvalidated.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{tools: make(map[string]domain.Tool), logger: logger}
}

// Register adds tools. It stops at the first duplicate name.
func (r *Registry) Register(tools ...domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		name := t.Name()
		if _, exists := r.tools[name]; exists {
			return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, "tool "+name)
		}
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
			wrapped = t
		}
		r.tools[name] = wrapped
	}
	return nil
}

func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Schemas returns all schemas sorted by name so prompts are stable.
func (r *Registry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	slices.SortFunc(schemas, func(a, b domain.ToolSchema) int { return strings.Compare(a.Name, b.Name) })
	return schemas
}
