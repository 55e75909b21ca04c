// Package local implements a local filesystem state backend.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

func init() {
	statestore.Register("local", NewStore)
}

// Store implements the state store interface for local filesystem storage.
// Versions are monotonic counters kept in sidecar .version files; conditional
// writes are serialized by a process-wide mutex, so compare-and-swap holds
// within one process (sufficient for a single operator working locally).
type Store struct {
	basePath string
	mu       sync.Mutex
}

// NewStore creates a new local backend.
func NewStore(config map[string]string) (statestore.Store, error) {
	path := config["path"]
	if path == "" {
		// Default to ~/.stackctl/state
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".stackctl", "state")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &Store{basePath: path}, nil
}

func (s *Store) Type() string {
	return "local"
}

func (s *Store) Get(ctx context.Context, key string) (*statestore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(key)
}

func (s *Store) read(key string) (*statestore.Record, error) {
	fullPath := s.fullPath(key)

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, statestore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
	}

	version := "0"
	if v, err := os.ReadFile(fullPath + ".version"); err == nil {
		version = strings.TrimSpace(string(v))
	}

	return &statestore.Record{Value: data, Version: version}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(key)
	exists := err == nil
	if err != nil && err != statestore.ErrNotFound {
		return "", err
	}

	switch expectedVersion {
	case statestore.AnyVersion:
	case statestore.NoVersion:
		if exists {
			return "", errors.VersionConflictError(key, expectedVersion)
		}
	default:
		if !exists || current.Version != expectedVersion {
			return "", errors.VersionConflictError(key, expectedVersion)
		}
	}

	next := 1
	if exists {
		if n, err := strconv.Atoi(current.Version); err == nil {
			next = n + 1
		}
	}
	version := strconv.Itoa(next)

	fullPath := s.fullPath(key)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Write to temp file first, then rename for atomicity
	tempFile, err := os.CreateTemp(dir, ".stackctl-state-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	_, werr := tempFile.Write(value)
	if closeErr := tempFile.Close(); closeErr != nil && werr == nil {
		werr = closeErr
	}
	if werr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write state: %w", werr)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	if err := os.WriteFile(fullPath+".version", []byte(version), 0644); err != nil {
		return "", fmt.Errorf("failed to write version marker: %w", err)
	}

	return version, nil
}

func (s *Store) Delete(ctx context.Context, key string, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(key)
	if err == statestore.ErrNotFound {
		if expectedVersion == statestore.AnyVersion {
			return nil // Idempotent
		}
		return statestore.ErrNotFound
	}
	if err != nil {
		return err
	}

	if expectedVersion != statestore.AnyVersion && current.Version != expectedVersion {
		return errors.VersionConflictError(key, expectedVersion)
	}

	fullPath := s.fullPath(key)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", fullPath, err)
	}
	os.Remove(fullPath + ".version")

	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)

	var keys []string
	err := filepath.Walk(fullPrefix, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && !strings.HasSuffix(path, ".version") && !strings.HasPrefix(filepath.Base(path), ".stackctl-state-") {
			relPath, _ := filepath.Rel(s.basePath, path)
			keys = append(keys, filepath.ToSlash(relPath))
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", fullPrefix, err)
	}

	return keys, nil
}

func (s *Store) fullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
