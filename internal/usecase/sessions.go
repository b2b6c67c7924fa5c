package usecase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clinicrew/internal/domain"
)

// Conversation is the per-session orchestrator as seen by the registry.
type Conversation interface {
	Run(ctx context.Context, input string) iter.Seq[domain.AgentMessage]
	// RunDirect sends subject straight to target, or to the default
	// direct-query specialist when target is empty.
	RunDirect(ctx context.Context, target, subject string) iter.Seq[domain.AgentMessage]
	Reset()
	ExportHistory() ([]byte, error)
	LoadHistory(blob []byte)
	ThreadLen() int
}

// OrchestratorFactory builds the conversation for a new session.
type OrchestratorFactory func(sessionID string) (Conversation, error)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateSessionID rejects ids that are empty, too long or contain
// characters outside [A-Za-z0-9_-].
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return domain.NewSubSystemError("session", "ValidateSessionID", domain.ErrInvalidInput,
			fmt.Sprintf("invalid session id %q", id))
	}
	return nil
}

// SessionInfo summarises one live session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Messages int       `json:"messages"`
	LastUsed time.Time `json:"last_used"`
}

type sessionEntry struct {
	conv     Conversation
	lastUsed time.Time
}

// SessionRegistry maps session ids to lazily created orchestrators and
// persists their histories.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	factory  OrchestratorFactory
	store    domain.HistoryStore // optional
	locker   *SessionLocker
	logger   *slog.Logger
	bus      domain.EventBus
	now      func() time.Time
}

// RegistryOption configures a SessionRegistry.
type RegistryOption func(*SessionRegistry)

// WithRegistryEvents publishes session lifecycle events on bus.
func WithRegistryEvents(bus domain.EventBus) RegistryOption {
	return func(r *SessionRegistry) { r.bus = bus }
}

// WithRegistryClock overrides the time source.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) { r.now = now }
}

// NewSessionRegistry creates a registry. store may be nil.
func NewSessionRegistry(factory OrchestratorFactory, store domain.HistoryStore, logger *slog.Logger, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions: make(map[string]*sessionEntry),
		factory:  factory,
		store:    store,
		locker:   NewSessionLocker(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the conversation for id, creating it on first use and
// restoring any persisted history.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, id string) (Conversation, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	if conv, ok := r.lookup(id); ok {
		return conv, nil
	}

	// r.mu is not held while building or restoring.
	conv, err := r.factory(id)
	if err != nil {
		return nil, domain.WrapOp("SessionRegistry.GetOrCreate", err)
	}
	if r.store != nil {
		blob, err := r.store.LoadHistory(ctx, id)
		switch {
		case err == nil:
			conv.LoadHistory(blob)
		case errors.Is(err, domain.ErrSessionNotFound):
		default:
			r.logger.Warn("history load failed, starting empty", "session", id, "error", err)
		}
	}

	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		// A concurrent caller won; its conversation is the one in use.
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e.conv, nil
	}
	r.sessions[id] = &sessionEntry{conv: conv, lastUsed: r.now()}
	r.mu.Unlock()

	if n := conv.ThreadLen(); n > 0 {
		r.logger.Info("session restored", "session", id, "messages", n)
	}
	r.publish(ctx, domain.EventSessionCreated, id)
	return conv, nil
}

func (r *SessionRegistry) lookup(id string) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.conv, true
}

// Run streams a planned orchestration for session id.
func (r *SessionRegistry) Run(ctx context.Context, id, input string) iter.Seq[domain.AgentMessage] {
	return r.stream(ctx, id, func(ctx context.Context, c Conversation) iter.Seq[domain.AgentMessage] {
		return c.Run(ctx, input)
	})
}

// RunDirect streams a direct query to the default direct-query specialist.
func (r *SessionRegistry) RunDirect(ctx context.Context, id, subject string) iter.Seq[domain.AgentMessage] {
	return r.RunDirectTo(ctx, id, "", subject)
}

// RunDirectTo streams a direct query to the named specialist.
func (r *SessionRegistry) RunDirectTo(ctx context.Context, id, target, subject string) iter.Seq[domain.AgentMessage] {
	return r.stream(ctx, id, func(ctx context.Context, c Conversation) iter.Seq[domain.AgentMessage] {
		return c.RunDirect(ctx, target, subject)
	})
}

// stream holds the session lock while the caller consumes the run and saves
// the history once the run has completed. Failures to reach the session are
// reported as a System message.
func (r *SessionRegistry) stream(ctx context.Context, id string, run func(context.Context, Conversation) iter.Seq[domain.AgentMessage]) iter.Seq[domain.AgentMessage] {
	return func(yield func(domain.AgentMessage) bool) {
		conv, err := r.GetOrCreate(ctx, id)
		if err != nil {
			yield(domain.SystemMessage(err.Error()))
			return
		}
		unlock, err := r.locker.Lock(ctx, id)
		if err != nil {
			yield(domain.SystemMessage(err.Error()))
			return
		}
		defer unlock()

		ctx := domain.ContextWithSessionID(ctx, id)
		for msg := range run(ctx, conv) {
			if !yield(msg) {
				r.touch(id)
				return
			}
		}
		r.touch(id)
		if ctx.Err() == nil {
			r.persist(context.WithoutCancel(ctx), id, conv)
		}
	}
}

// Reset clears the thread of id and its persisted history.
func (r *SessionRegistry) Reset(ctx context.Context, id string) error {
	conv, err := r.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	unlock, err := r.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	conv.Reset()
	if r.store != nil {
		if err := r.store.DeleteHistory(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return domain.WrapOp("SessionRegistry.Reset", err)
		}
	}
	return nil
}

// Export returns the history snapshot of id.
func (r *SessionRegistry) Export(ctx context.Context, id string) ([]byte, error) {
	conv, err := r.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := r.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return conv.ExportHistory()
}

// Load replaces the history of id with blob and persists the result.
func (r *SessionRegistry) Load(ctx context.Context, id string, blob []byte) error {
	conv, err := r.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	unlock, err := r.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	conv.LoadHistory(blob)
	r.persist(ctx, id, conv)
	return nil
}

// Delete drops the session from memory and storage.
func (r *SessionRegistry) Delete(ctx context.Context, id string) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}
	r.mu.Lock()
	_, live := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if live {
		r.publish(ctx, domain.EventSessionDeleted, id)
	}
	if r.store != nil {
		err := r.store.DeleteHistory(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return domain.WrapOp("SessionRegistry.Delete", err)
		}
		if err == nil {
			live = true
		}
	}
	if !live {
		return domain.NewSubSystemError("session", "SessionRegistry.Delete", domain.ErrNotFound, id)
	}
	return nil
}

// List returns the live sessions ordered by id.
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, SessionInfo{ID: id, Messages: e.conv.ThreadLen(), LastUsed: e.lastUsed})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ReapIdle evicts sessions unused for longer than maxIdle. Sessions with a
// run in progress are kept. Persisted histories are left in place.
func (r *SessionRegistry) ReapIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var reaped []string
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) && !r.locker.Held(id) {
			delete(r.sessions, id)
			reaped = append(reaped, id)
		}
	}
	r.mu.Unlock()

	for _, id := range reaped {
		r.publish(context.Background(), domain.EventSessionDeleted, id)
	}
	if len(reaped) > 0 {
		r.logger.Info("idle sessions reaped", "count", len(reaped))
	}
	return len(reaped)
}

// StartReaper runs ReapIdle on a cron schedule until ctx is done or the
// returned stop function is called.
func (r *SessionRegistry) StartReaper(ctx context.Context, schedule string, maxIdle time.Duration) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { r.ReapIdle(maxIdle) }); err != nil {
		return nil, fmt.Errorf("session reaper: %w", err)
	}
	c.Start()

	var once sync.Once
	stop = func() {
		once.Do(func() { <-c.Stop().Done() })
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

func (r *SessionRegistry) touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.lastUsed = r.now()
	}
}

func (r *SessionRegistry) persist(ctx context.Context, id string, conv Conversation) {
	if r.store == nil {
		return
	}
	blob, err := conv.ExportHistory()
	if err != nil {
		r.logger.Warn("history export failed", "session", id, "error", err)
		return
	}
	if err := r.store.SaveHistory(ctx, id, blob); err != nil {
		r.logger.Warn("history save failed", "session", id, "error", err)
	}
}

func (r *SessionRegistry) publish(ctx context.Context, t domain.EventType, id string) {
	if r.bus != nil {
		r.bus.Publish(ctx, domain.NewEvent(t, id, nil))
	}
}
