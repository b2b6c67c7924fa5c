package usecase

import (
	"slices"

	"clinicrew/internal/domain"
)

// ScopedTools restricts inner to the named tools. An empty allow list
// returns inner unchanged; a nil inner yields an executor with no tools.
func ScopedTools(inner domain.ToolExecutor, allowed []string) domain.ToolExecutor {
	if inner == nil {
		return noTools{}
	}
	if len(allowed) == 0 {
		return inner
	}
	return &scopedTools{inner: inner, allowed: slices.Clone(allowed)}
}

type scopedTools struct {
	inner   domain.ToolExecutor
	allowed []string
}

func (s *scopedTools) Get(name string) (domain.Tool, error) {
	if !slices.Contains(s.allowed, name) {
		return nil, domain.ErrToolNotFound
	}
	return s.inner.Get(name)
}

// Schemas returns the schemas of allowed tools in the inner executor's order.
func (s *scopedTools) Schemas() []domain.ToolSchema {
	return slices.DeleteFunc(slices.Clone(s.inner.Schemas()), func(ts domain.ToolSchema) bool {
		return !slices.Contains(s.allowed, ts.Name)
	})
}

type noTools struct{}

func (noTools) Get(string) (domain.Tool, error) { return nil, domain.ErrToolNotFound }
func (noTools) Schemas() []domain.ToolSchema    { return nil }
