package local

import (
	"context"
	"sort"
	"testing"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

func newTestStore(t *testing.T) statestore.Store {
	t.Helper()
	store, err := NewStore(map[string]string{"path": t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return store
}

func TestPutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	version, err := store.Put(ctx, "stacks/dev/modules/vpc.state.json", []byte(`{"lifecycle":"applied"}`), statestore.AnyVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := store.Get(ctx, "stacks/dev/modules/vpc.state.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(rec.Value) != `{"lifecycle":"applied"}` {
		t.Errorf("unexpected value %q", rec.Value)
	}
	if rec.Version != version {
		t.Errorf("expected version %q, got %q", version, rec.Version)
	}
}

func TestGet_Missing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); err != statestore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_CreateOnlyConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "key", []byte("first"), statestore.NoVersion); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := store.Put(ctx, "key", []byte("second"), statestore.NoVersion)
	if !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestPut_VersionIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v1, err := store.Put(ctx, "key", []byte("one"), statestore.AnyVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 != "1" {
		t.Errorf("expected first version 1, got %q", v1)
	}

	v2, err := store.Put(ctx, "key", []byte("two"), v1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2 != "2" {
		t.Errorf("expected second version 2, got %q", v2)
	}

	if _, err := store.Put(ctx, "key", []byte("three"), v1); !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict on stale token, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	version, err := store.Put(ctx, "key", []byte("x"), statestore.AnyVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Delete(ctx, "key", "99"); !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := store.Delete(ctx, "key", version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, "key"); err != statestore.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "key", statestore.AnyVersion); err != nil {
		t.Fatalf("expected idempotent unconditional delete, got %v", err)
	}
}

func TestList_SkipsSidecars(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"stacks/dev/a.json", "stacks/dev/sub/b.json", "stacks/prod/c.json"} {
		if _, err := store.Put(ctx, key, []byte("x"), statestore.AnyVersion); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	keys, err := store.List(ctx, "stacks/dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(keys)
	want := []string{"stacks/dev/a.json", "stacks/dev/sub/b.json"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("expected %v, got %v", want, keys)
		}
	}
}

func TestList_MissingPrefix(t *testing.T) {
	store := newTestStore(t)
	keys, err := store.List(context.Background(), "does/not/exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}
