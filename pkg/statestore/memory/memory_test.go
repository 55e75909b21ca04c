package memory

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

func TestPutGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	version, err := store.Put(ctx, "stacks/dev/app.state.json", []byte(`{"a":1}`), statestore.AnyVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version == "" {
		t.Fatal("expected a version token")
	}

	rec, err := store.Get(ctx, "stacks/dev/app.state.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(rec.Value) != `{"a":1}` {
		t.Errorf("unexpected value %q", rec.Value)
	}
	if rec.Version != version {
		t.Errorf("expected version %q, got %q", version, rec.Version)
	}
}

func TestGet_Missing(t *testing.T) {
	store := NewStore()
	if _, err := store.Get(context.Background(), "nope"); err != statestore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_CreateOnly(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, "key", []byte("first"), statestore.NoVersion); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := store.Put(ctx, "key", []byte("second"), statestore.NoVersion)
	if !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestPut_CompareAndSwap(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	v1, err := store.Put(ctx, "key", []byte("one"), statestore.AnyVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v2, err := store.Put(ctx, "key", []byte("two"), v1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2 == v1 {
		t.Error("expected a new version after write")
	}

	// The old token no longer matches.
	_, err = store.Put(ctx, "key", []byte("three"), v1)
	if !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestPut_ConditionalOnMissing(t *testing.T) {
	store := NewStore()
	_, err := store.Put(context.Background(), "key", []byte("x"), "42")
	if !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	version, err := store.Put(ctx, "key", []byte("x"), statestore.AnyVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Delete(ctx, "key", "stale"); !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := store.Delete(ctx, "key", version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, "key"); err != statestore.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Unconditional delete of a missing key is idempotent.
	if err := store.Delete(ctx, "key", statestore.AnyVersion); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
	if err := store.Delete(ctx, "key", "1"); err != statestore.ErrNotFound {
		t.Fatalf("expected ErrNotFound for conditional delete of missing key, got %v", err)
	}
}

func TestList(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for _, key := range []string{"stacks/dev/a", "stacks/dev/b", "stacks/prod/a"} {
		if _, err := store.Put(ctx, key, []byte("x"), statestore.AnyVersion); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	keys, err := store.List(ctx, "stacks/dev/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "stacks/dev/a" || keys[1] != "stacks/dev/b" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, "key", []byte("abc"), statestore.AnyVersion); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Value[0] = 'z'

	again, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(again.Value) != "abc" {
		t.Errorf("stored value mutated through returned record: %q", again.Value)
	}
}

func TestPut_ConcurrentCreateOnly(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Put(ctx, "key", []byte("x"), statestore.NoVersion); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one create to win, got %d", winners)
	}
}
