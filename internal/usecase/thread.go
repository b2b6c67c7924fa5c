package usecase

import (
	"crypto/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"clinicrew/internal/domain"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionID returns a new ULID. Ids created within the same millisecond
// sort in creation order.
func NewSessionID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// MemoryThread is an in-memory conversation thread.
type MemoryThread struct {
	mu        sync.RWMutex
	id        string
	msgs      []domain.Message
	updatedAt time.Time
}

var _ domain.Thread = (*MemoryThread)(nil)

// NewThread creates an empty thread with a fresh ULID.
func NewThread() *MemoryThread {
	return &MemoryThread{id: NewSessionID(), updatedAt: time.Now()}
}

// NewThreadWith creates a thread pre-populated with msgs.
func NewThreadWith(msgs []domain.Message) *MemoryThread {
	t := NewThread()
	t.msgs = slices.Clone(msgs)
	return t
}

func (t *MemoryThread) ID() string { return t.id }

// Append adds messages, stamping any without a timestamp.
func (t *MemoryThread) Append(msgs ...domain.Message) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		t.msgs = append(t.msgs, m)
	}
	t.updatedAt = now
}

// Messages returns a copy of the history.
func (t *MemoryThread) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.msgs)
}

func (t *MemoryThread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Replace swaps the whole history.
func (t *MemoryThread) Replace(msgs []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = slices.Clone(msgs)
	t.updatedAt = time.Now()
}

// UpdatedAt reports the time of the last mutation.
func (t *MemoryThread) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}
