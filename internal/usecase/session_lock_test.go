package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSessionLockerBasic(t *testing.T) {
	sl := NewSessionLocker()

	unlock, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if sl.ActiveCount() != 1 || !sl.Held("session-1") {
		t.Errorf("ActiveCount = %d, want 1", sl.ActiveCount())
	}

	unlock()
	unlock() // second call is a no-op

	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount after unlock = %d, want 0", sl.ActiveCount())
	}
}

func TestSessionLockerConcurrentSameSession(t *testing.T) {
	sl := NewSessionLocker()

	unlock1, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock1: %v", err)
	}

	order := make(chan int, 2)
	var wg sync.WaitGroup
	wg.Go(func() {
		unlock2, err := sl.Lock(context.Background(), "session-1")
		if err != nil {
			t.Errorf("Lock2: %v", err)
			return
		}
		order <- 2
		unlock2()
	})

	time.Sleep(50 * time.Millisecond)
	order <- 1
	unlock1()
	wg.Wait()

	if first := <-order; first != 1 {
		t.Errorf("second locker ran before the first released")
	}
	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", sl.ActiveCount())
	}
}

func TestSessionLockerDifferentSessions(t *testing.T) {
	sl := NewSessionLocker()

	unlock1, err := sl.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := sl.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b should not block: %v", err)
	}
	unlock2()
}

func TestSessionLockerContextCancelled(t *testing.T) {
	sl := NewSessionLocker()

	unlock, err := sl.Lock(context.Background(), "s")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sl.Lock(ctx, "s"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock err = %v, want deadline exceeded", err)
	}

	unlock()
	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", sl.ActiveCount())
	}

	unlock2, err := sl.Lock(context.Background(), "s")
	if err != nil {
		t.Fatalf("Lock after cancel: %v", err)
	}
	unlock2()
}
