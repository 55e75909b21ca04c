// Package memory implements an in-memory state backend for tests and
// single-process use.
package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

func init() {
	statestore.Register("memory", func(config map[string]string) (statestore.Store, error) {
		return NewStore(), nil
	})
}

// Store implements the state store interface backed by a map. All
// conditional writes happen under one mutex, giving true compare-and-swap
// semantics for concurrent callers.
type Store struct {
	mu      sync.Mutex
	records map[string]statestore.Record
	seq     uint64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string]statestore.Record)}
}

func (s *Store) Type() string {
	return "memory"
}

func (s *Store) Get(ctx context.Context, key string) (*statestore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, statestore.ErrNotFound
	}

	value := make([]byte, len(rec.Value))
	copy(value, rec.Value)
	return &statestore.Record{Value: value, Version: rec.Version}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[key]

	switch expectedVersion {
	case statestore.AnyVersion:
		// Unconditional
	case statestore.NoVersion:
		if exists {
			return "", errors.VersionConflictError(key, expectedVersion)
		}
	default:
		if !exists || current.Version != expectedVersion {
			return "", errors.VersionConflictError(key, expectedVersion)
		}
	}

	s.seq++
	stored := make([]byte, len(value))
	copy(stored, value)
	version := strconv.FormatUint(s.seq, 10)
	s.records[key] = statestore.Record{Value: stored, Version: version}
	return version, nil
}

func (s *Store) Delete(ctx context.Context, key string, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[key]
	if !exists {
		if expectedVersion == statestore.AnyVersion {
			return nil // Idempotent
		}
		return statestore.ErrNotFound
	}

	if expectedVersion != statestore.AnyVersion && current.Version != expectedVersion {
		return errors.VersionConflictError(key, expectedVersion)
	}

	delete(s.records, key)
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.records {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
