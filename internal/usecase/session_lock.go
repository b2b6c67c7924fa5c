package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker serialises operations per session id. A run holds the lock
// for as long as its message stream is being consumed.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*sessionSlot
}

type sessionSlot struct {
	sem  chan struct{}
	refs int
}

// NewSessionLocker creates an empty locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{locks: make(map[string]*sessionSlot)}
}

// Lock blocks until the session is free or ctx is done. The returned unlock
// function must be called exactly once.
func (sl *SessionLocker) Lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	sl.mu.Lock()
	slot, ok := sl.locks[sessionID]
	if !ok {
		slot = &sessionSlot{sem: make(chan struct{}, 1)}
		sl.locks[sessionID] = slot
	}
	slot.refs++
	sl.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				sl.release(sessionID, slot)
			})
		}, nil
	case <-ctx.Done():
		sl.release(sessionID, slot)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (sl *SessionLocker) release(sessionID string, slot *sessionSlot) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(sl.locks, sessionID)
	}
}

// ActiveCount returns the number of sessions with a held or pending lock.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}

// Held reports whether sessionID has a held or pending lock.
func (sl *SessionLocker) Held(sessionID string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, ok := sl.locks[sessionID]
	return ok
}
