// Package statestore defines the key-value store interface used for remote
// state blobs and lock records, plus a registry of backend implementations.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("statestore: key not found")

// Version sentinels for conditional writes. Any other value must match the
// record's current version exactly.
const (
	// AnyVersion makes the write unconditional.
	AnyVersion = "*"

	// NoVersion requires that the key does not exist (create-only).
	NoVersion = ""
)

// Record is a stored value together with its backend version token.
type Record struct {
	Value   []byte
	Version string
}

// Store is a key-value store with conditional put/delete. Conditional
// operations are single atomic compare-and-swap writes against the backend,
// never read-then-write pairs; a failed condition surfaces as a
// VersionConflictError from pkg/errors.
type Store interface {
	// Type returns the backend identifier (e.g., "local", "s3")
	Type() string

	// Get reads a record. Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (*Record, error)

	// Put writes a record subject to expectedVersion and returns the new
	// version token.
	Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error)

	// Delete removes a record subject to expectedVersion. Deleting a missing
	// key with AnyVersion is a no-op.
	Delete(ctx context.Context, key string, expectedVersion string) error

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config describes how to construct a backend.
type Config struct {
	Type   string
	Config map[string]string
}

// Factory creates a backend from configuration.
type Factory func(config map[string]string) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory. Called from backend package init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Create builds a backend from configuration.
func Create(config Config) (Store, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown state backend %q (registered: %v)", config.Type, Registered())
	}

	return factory(config.Config)
}

// Registered returns the names of all registered backends.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
