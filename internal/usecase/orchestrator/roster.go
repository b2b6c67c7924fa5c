package orchestrator

import (
	"slices"
	"sync"

	"clinicrew/internal/domain"
)

// Roster is the ordered set of specialists an orchestrator may consult.
// Registration order is the fallback execution order.
type Roster struct {
	mu      sync.RWMutex
	names   []string
	members map[string]domain.Specialist
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{members: make(map[string]domain.Specialist)}
}

// Add registers s under name. Names are unique.
func (r *Roster) Add(name string, s domain.Specialist) error {
	if name == "" || s == nil {
		return domain.NewSubSystemError("roster", "Roster.Add", domain.ErrInvalidInput, "name and specialist are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[name]; exists {
		return domain.NewSubSystemError("roster", "Roster.Add", domain.ErrDuplicate, name)
	}
	r.names = append(r.names, name)
	r.members[name] = s
	return nil
}

// Get returns the specialist registered under name.
func (r *Roster) Get(name string) (domain.Specialist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.members[name]
	if !ok {
		return nil, domain.NewDomainError("Roster.Get", domain.ErrSpecialistNotFound, name)
	}
	return s, nil
}

// Names returns the registered names in registration order.
func (r *Roster) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names)
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
