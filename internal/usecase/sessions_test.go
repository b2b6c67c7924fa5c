package usecase

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicrew/internal/domain"
)

type fakeConversation struct {
	mu      sync.Mutex
	history []string
	loaded  [][]byte
	resets  int
	target  string
}

func (f *fakeConversation) Run(_ context.Context, input string) iter.Seq[domain.AgentMessage] {
	return func(yield func(domain.AgentMessage) bool) {
		f.mu.Lock()
		f.history = append(f.history, input)
		f.mu.Unlock()
		if !yield(domain.AgentMessage{Author: domain.AuthorUser, Text: input, IsComplete: true}) {
			return
		}
		yield(domain.AgentMessage{Author: "Coordinator", Text: "plan", IsComplete: true})
	}
}

func (f *fakeConversation) RunDirect(ctx context.Context, target, subject string) iter.Seq[domain.AgentMessage] {
	f.mu.Lock()
	f.target = target
	f.mu.Unlock()
	return f.Run(ctx, subject)
}

func (f *fakeConversation) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.history = nil
}

func (f *fakeConversation) ExportHistory() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte(`{"n":` + string(rune('0'+len(f.history))) + `}`), nil
}

func (f *fakeConversation) LoadHistory(blob []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, blob)
}

func (f *fakeConversation) ThreadLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

type memHistoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{blobs: make(map[string][]byte)}
}

func (s *memHistoryStore) SaveHistory(_ context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = blob
	return nil
}

func (s *memHistoryStore) LoadHistory(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return b, nil
}

func (s *memHistoryStore) DeleteHistory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.blobs, id)
	return nil
}

func newTestRegistry(store domain.HistoryStore, opts ...RegistryOption) (*SessionRegistry, map[string]*fakeConversation) {
	convs := make(map[string]*fakeConversation)
	var mu sync.Mutex
	factory := func(id string) (Conversation, error) {
		mu.Lock()
		defer mu.Unlock()
		c := &fakeConversation{}
		convs[id] = c
		return c, nil
	}
	return NewSessionRegistry(factory, store, discardLogger(), opts...), convs
}

func drainMessages(seq iter.Seq[domain.AgentMessage]) []domain.AgentMessage {
	var out []domain.AgentMessage
	for m := range seq {
		out = append(out, m)
	}
	return out
}

func TestValidateSessionID(t *testing.T) {
	for _, id := range []string{"a", "ward-3_bed-12", "01J9ZQ4X6R7Y8Z9A0B1C2D3E4F"} {
		assert.NoError(t, ValidateSessionID(id), id)
	}
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	for _, id := range []string{"", "../etc", "a b", "x/y", string(long)} {
		err := ValidateSessionID(id)
		require.Error(t, err, id)
		assert.Equal(t, domain.CodeSessionInvalidID, domain.ErrorCodeOf(err))
	}
}

func TestRegistryRunPersistsHistory(t *testing.T) {
	store := newMemHistoryStore()
	reg, convs := newTestRegistry(store)

	msgs := drainMessages(reg.Run(context.Background(), "s1", "Patient in room 4"))
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.AuthorUser, msgs[0].Author)

	blob, err := store.LoadHistory(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(blob))
	assert.Equal(t, 1, convs["s1"].ThreadLen())
}

func TestRegistryAbandonedRunNotPersisted(t *testing.T) {
	store := newMemHistoryStore()
	reg, _ := newTestRegistry(store)

	for range reg.Run(context.Background(), "s1", "hi") {
		break
	}
	_, err := store.LoadHistory(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// The lock was released.
	assert.Len(t, drainMessages(reg.Run(context.Background(), "s1", "again")), 2)
}

func TestRegistryRestoresStoredHistory(t *testing.T) {
	store := newMemHistoryStore()
	require.NoError(t, store.SaveHistory(context.Background(), "s1", []byte(`{"n":3}`)))
	reg, convs := newTestRegistry(store)

	_, err := reg.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, convs["s1"].loaded, 1)
	assert.Equal(t, `{"n":3}`, string(convs["s1"].loaded[0]))

	// Second lookup reuses the live conversation.
	_, err = reg.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, convs["s1"].loaded, 1)
}

func TestRegistryInvalidIDYieldsSystemMessage(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	msgs := drainMessages(reg.Run(context.Background(), "bad id", "hi"))
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.AuthorSystem, msgs[0].Author)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRunDirectTarget(t *testing.T) {
	reg, convs := newTestRegistry(nil)
	drainMessages(reg.RunDirectTo(context.Background(), "s1", "MedicalSecretary", "status"))
	assert.Equal(t, "MedicalSecretary", convs["s1"].target)

	drainMessages(reg.RunDirect(context.Background(), "s1", "status"))
	assert.Equal(t, "", convs["s1"].target)
}

func TestRegistryResetAndDelete(t *testing.T) {
	store := newMemHistoryStore()
	bus := &recordingBus{}
	reg, convs := newTestRegistry(store, WithRegistryEvents(bus))
	ctx := context.Background()

	drainMessages(reg.Run(ctx, "s1", "hi"))
	require.NoError(t, reg.Reset(ctx, "s1"))
	assert.Equal(t, 1, convs["s1"].resets)
	_, err := store.LoadHistory(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, reg.Delete(ctx, "s1"))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, domain.CodeSessionNotFound, domain.ErrorCodeOf(reg.Delete(ctx, "s1")))

	events := bus.events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSessionCreated, events[0].Type)
	assert.Equal(t, domain.EventSessionDeleted, events[1].Type)
}

func TestRegistryExportAndLoad(t *testing.T) {
	store := newMemHistoryStore()
	reg, convs := newTestRegistry(store)
	ctx := context.Background()

	drainMessages(reg.Run(ctx, "s1", "hi"))
	blob, err := reg.Export(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(blob))

	require.NoError(t, reg.Load(ctx, "s2", blob))
	assert.Equal(t, [][]byte{blob}, convs["s2"].loaded)
	_, err = store.LoadHistory(ctx, "s2")
	assert.NoError(t, err)
}

func TestRegistryReapIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg, _ := newTestRegistry(nil, WithRegistryClock(clock))
	ctx := context.Background()

	_, _ = reg.GetOrCreate(ctx, "old")
	now = now.Add(2 * time.Hour)
	_, _ = reg.GetOrCreate(ctx, "fresh")

	assert.Equal(t, 1, reg.ReapIdle(time.Hour))
	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ID)
}

func TestRegistryReapSkipsRunningSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg, _ := newTestRegistry(nil, WithRegistryClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _ = reg.GetOrCreate(ctx, "busy")
	unlock, err := reg.locker.Lock(ctx, "busy")
	require.NoError(t, err)
	defer unlock()

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 0, reg.ReapIdle(time.Hour))
}

func TestRegistryStartReaper(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := reg.StartReaper(ctx, "not a schedule", time.Hour)
	assert.Error(t, err)

	stop, err := reg.StartReaper(ctx, "@every 1h", time.Hour)
	require.NoError(t, err)
	stop()
	stop()
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("no llm")
	reg := NewSessionRegistry(func(string) (Conversation, error) { return nil, boom }, nil, discardLogger())
	_, err := reg.GetOrCreate(context.Background(), "s1")
	assert.ErrorIs(t, err, boom)
}

// blockingHistoryStore holds LoadHistory for "slow" until release is closed.
type blockingHistoryStore struct {
	*memHistoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingHistoryStore) LoadHistory(ctx context.Context, id string) ([]byte, error) {
	if id == "slow" {
		close(s.entered)
		<-s.release
	}
	return s.memHistoryStore.LoadHistory(ctx, id)
}

func TestRegistrySlowRestoreDoesNotBlockOthers(t *testing.T) {
	store := &blockingHistoryStore{
		memHistoryStore: newMemHistoryStore(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	reg, _ := newTestRegistry(store)
	ctx := context.Background()

	slowDone := make(chan error, 1)
	go func() {
		_, err := reg.GetOrCreate(ctx, "slow")
		slowDone <- err
	}()
	<-store.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := reg.GetOrCreate(ctx, "fast")
		reg.List()
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("GetOrCreate blocked behind a slow history load")
	}

	close(store.release)
	require.NoError(t, <-slowDone)
	assert.Len(t, reg.List(), 2)
}

func TestRegistryConcurrentCreateSharesConversation(t *testing.T) {
	bus := &recordingBus{}
	reg, _ := newTestRegistry(newMemHistoryStore(), WithRegistryEvents(bus))
	ctx := context.Background()

	const n = 8
	convs := make([]Conversation, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			c, err := reg.GetOrCreate(ctx, "shared")
			assert.NoError(t, err)
			convs[i] = c
		})
	}
	wg.Wait()

	for _, c := range convs[1:] {
		assert.Same(t, convs[0], c)
	}
	created := 0
	for _, ev := range bus.events() {
		if ev.Type == domain.EventSessionCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}
