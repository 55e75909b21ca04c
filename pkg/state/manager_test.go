package state

import (
	"context"
	"testing"

	"github.com/stackforge/stackctl/pkg/module"
	"github.com/stackforge/stackctl/pkg/statestore/memory"
)

func devEnv() *module.Environment {
	return &module.Environment{Name: "dev", StatePrefix: "stacks/demo/dev"}
}

func TestGetModule_MissingIsUnplanned(t *testing.T) {
	mgr := NewManager(memory.NewStore())

	doc, err := mgr.GetModule(context.Background(), devEnv(), "modules/vpc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Lifecycle != module.LifecycleUnplanned {
		t.Errorf("expected unplanned lifecycle, got %s", doc.Lifecycle)
	}
	if doc.Environment != "dev" || doc.Path != "modules/vpc" {
		t.Errorf("expected identity filled in, got %+v", doc)
	}
}

func TestSaveAndGetModule(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	env := devEnv()

	doc := &ModuleState{
		Environment: "dev",
		Path:        "modules/db",
		Lifecycle:   module.LifecycleApplied,
		Outputs:     map[string]interface{}{"dsn": "postgres://real"},
	}
	if err := mgr.SaveModule(ctx, env, doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped on save")
	}

	loaded, err := mgr.GetModule(ctx, env, "modules/db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Lifecycle != module.LifecycleApplied {
		t.Errorf("expected applied lifecycle, got %s", loaded.Lifecycle)
	}
	if loaded.Outputs["dsn"] != "postgres://real" {
		t.Errorf("expected recorded output, got %v", loaded.Outputs)
	}
}

func TestListModules(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	env := devEnv()

	for _, p := range []string{"modules/vpc", "modules/db"} {
		doc := &ModuleState{Environment: "dev", Path: p, Lifecycle: module.LifecyclePlanned}
		if err := mgr.SaveModule(ctx, env, doc); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// A different environment under the same stack must not leak in.
	other := &module.Environment{Name: "prod", StatePrefix: "stacks/demo/prod"}
	if err := mgr.SaveModule(ctx, other, &ModuleState{Environment: "prod", Path: "modules/vpc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	docs, err := mgr.ListModules(ctx, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 module states, got %d", len(docs))
	}
	for _, doc := range docs {
		if doc.Environment != "dev" {
			t.Errorf("unexpected environment %q in listing", doc.Environment)
		}
	}
}
