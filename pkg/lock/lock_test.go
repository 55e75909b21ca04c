package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore/memory"
)

func TestAcquireRelease(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "stacks/dev/modules/vpc.state.json", "alice", time.Minute, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.Holder() != "alice" {
		t.Errorf("expected holder alice, got %q", handle.Holder())
	}
	if handle.Recovered {
		t.Error("fresh acquisition should not be marked recovered")
	}

	record, err := mgr.Inspect(ctx, "stacks/dev/modules/vpc.state.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Holder != "alice" {
		t.Fatalf("expected held record for alice, got %+v", record)
	}

	if err := mgr.Release(ctx, handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err = mgr.Inspect(ctx, "stacks/dev/modules/vpc.state.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Errorf("expected lock removed, got %+v", record)
	}
}

func TestAcquire_HeldFails(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	if _, err := mgr.Acquire(ctx, "key", "alice", time.Minute, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := mgr.Acquire(ctx, "key", "bob", time.Minute, Options{})
	if !errors.Is(err, errors.ErrCodeLockHeld) {
		t.Fatalf("expected lock-held error, got %v", err)
	}
}

func TestAcquire_RecoverExpired(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	base := time.Now()
	first := NewManager(store, nil)
	first.now = func() time.Time { return base }

	if _, err := first.Acquire(ctx, "key", "crashed", time.Minute, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := NewManager(store, nil)
	second.now = func() time.Time { return base.Add(2 * time.Minute) }

	handle, err := second.Acquire(ctx, "key", "recoverer", time.Minute, Options{})
	if err != nil {
		t.Fatalf("expected recovery of expired lock, got %v", err)
	}
	if !handle.Recovered {
		t.Error("expected handle to be marked recovered")
	}
	if handle.Holder() != "recoverer" {
		t.Errorf("expected new holder, got %q", handle.Holder())
	}
}

func TestAcquire_ForceTakesValidLock(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	if _, err := mgr.Acquire(ctx, "key", "alice", time.Hour, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handle, err := mgr.Acquire(ctx, "key", "operator", time.Minute, Options{Force: true})
	if err != nil {
		t.Fatalf("expected force takeover, got %v", err)
	}
	if handle.Recovered {
		t.Error("force takeover of a valid lock is not a stale recovery")
	}
}

func TestAcquire_InvalidTTL(t *testing.T) {
	mgr := NewManager(memory.NewStore(), nil)
	if _, err := mgr.Acquire(context.Background(), "key", "alice", 0, Options{}); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestRenew_LostExclusivity(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "key", "alice", time.Minute, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Someone force-takes the lock out from under alice.
	if _, err := mgr.Acquire(ctx, "key", "bob", time.Minute, Options{Force: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = mgr.Renew(ctx, handle, time.Minute)
	if !errors.Is(err, errors.ErrCodeLockExpired) {
		t.Fatalf("expected lock-expired error, got %v", err)
	}
}

func TestRenew_Extends(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "key", "alice", time.Minute, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.Renew(ctx, handle, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := mgr.Inspect(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.TTL != time.Hour {
		t.Errorf("expected renewed ttl of 1h, got %s", record.TTL)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "key", "alice", time.Minute, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mgr.Release(ctx, handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.Release(ctx, handle); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestRelease_AfterTakeoverIsNoop(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	stale, err := mgr.Acquire(ctx, "key", "alice", time.Minute, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := mgr.Acquire(ctx, "key", "bob", time.Minute, Options{Force: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Releasing the stale handle must not remove bob's lock.
	if err := mgr.Release(ctx, stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := mgr.Inspect(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Holder != "bob" {
		t.Fatalf("expected bob to still hold the lock, got %+v", record)
	}
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store, nil)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Acquire(ctx, "key", "worker", time.Minute, Options{}); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}
