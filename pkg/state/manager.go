// Package state provides persisted module and environment state documents
// over the state store.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/stackforge/stackctl/pkg/module"
	"github.com/stackforge/stackctl/pkg/statestore"
)

// ModuleState is the persisted state document for one module. It is mutated
// only by the deployment executor, under the module's exclusive lock.
type ModuleState struct {
	Environment string                 `json:"environment"`
	Path        string                 `json:"path"`
	Lifecycle   module.Lifecycle       `json:"lifecycle"`
	Inputs      map[string]interface{} `json:"inputs,omitempty"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Manager provides high-level state operations.
type Manager struct {
	store statestore.Store
}

// NewManager creates a new state manager with the given store.
func NewManager(store statestore.Store) *Manager {
	return &Manager{store: store}
}

// NewManagerFromConfig creates a new state manager from backend configuration.
func NewManagerFromConfig(config statestore.Config) (*Manager, error) {
	store, err := statestore.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return NewManager(store), nil
}

// Store returns the underlying state store.
func (m *Manager) Store() statestore.Store {
	return m.store
}

// GetModule reads a module's state document. Returns a fresh Unplanned
// document when none exists yet.
func (m *Manager) GetModule(ctx context.Context, env *module.Environment, modulePath string) (*ModuleState, error) {
	doc, err := readJSON[ModuleState](ctx, m.store, env.StateKey(modulePath))
	if err == statestore.ErrNotFound {
		return &ModuleState{
			Environment: env.Name,
			Path:        modulePath,
			Lifecycle:   module.LifecycleUnplanned,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveModule writes a module's state document.
func (m *Manager) SaveModule(ctx context.Context, env *module.Environment, doc *ModuleState) error {
	doc.UpdatedAt = time.Now()
	return writeJSON(ctx, m.store, env.StateKey(doc.Path), doc)
}

// ListModules reads the state documents of every module recorded under the
// environment's prefix.
func (m *Manager) ListModules(ctx context.Context, env *module.Environment) ([]*ModuleState, error) {
	prefix := path.Join(env.StatePrefix, "modules") + "/"
	keys, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var docs []*ModuleState
	for _, key := range keys {
		if !strings.HasSuffix(key, ".state.json") {
			continue
		}
		doc, err := readJSON[ModuleState](ctx, m.store, key)
		if err != nil {
			continue // Skip documents that can't be read
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// JSON helpers

func readJSON[T any](ctx context.Context, store statestore.Store, key string) (*T, error) {
	rec, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(rec.Value, &result); err != nil {
		return nil, fmt.Errorf("failed to decode JSON at %s: %w", key, err)
	}

	return &result, nil
}

func writeJSON(ctx context.Context, store statestore.Store, key string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	_, err = store.Put(ctx, key, content, statestore.AnyVersion)
	return err
}
