// Package lock provides exclusive, time-bounded locks over state-store keys.
// A lock record is written with a single conditional put, so at most one
// non-expired record can exist per key at any instant.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

// Record is the persisted lock document.
type Record struct {
	ID         string        `json:"id"`
	Key        string        `json:"key"`
	Holder     string        `json:"holder"`
	AcquiredAt time.Time     `json:"acquired_at"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether the record's ttl has elapsed.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.AcquiredAt.Add(r.TTL))
}

// Remaining returns the time left before the record expires.
func (r Record) Remaining(now time.Time) time.Duration {
	remaining := r.AcquiredAt.Add(r.TTL).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Handle represents a held lock. Release and Renew are only valid on the
// handle returned by Acquire.
type Handle struct {
	record   Record
	version  string
	released bool

	// Recovered is true when the acquisition force-took an expired record.
	Recovered bool
}

// ID returns the lock's unique identifier.
func (h *Handle) ID() string {
	return h.record.ID
}

// Holder returns the identity that acquired the lock.
func (h *Handle) Holder() string {
	return h.record.Holder
}

// Key returns the locked state key.
func (h *Handle) Key() string {
	return h.record.Key
}

// Options configures acquisition behavior.
type Options struct {
	// Force bypasses stale-lock protection and takes over any existing
	// record, expired or not.
	Force bool
}

// Manager acquires and releases locks against an injected state store.
type Manager struct {
	store  statestore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a lock manager over the given store.
func NewManager(store statestore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger, now: time.Now}
}

func lockKey(key string) string {
	return key + ".lock"
}

// Acquire claims the lock on key for holder. The claim is one conditional
// write: create-only when no record exists, or a compare-and-swap against
// an expired record's version. A valid record held by someone else fails
// with LockHeldError; losing the conditional write fails the same way.
func (m *Manager) Acquire(ctx context.Context, key, holder string, ttl time.Duration, opts Options) (*Handle, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	lk := lockKey(key)
	expectedVersion := statestore.NoVersion
	recovered := false

	existing, err := m.store.Get(ctx, lk)
	switch {
	case err == statestore.ErrNotFound:
		// No record: create-only write below.
	case err != nil:
		return nil, errors.BackendError(m.store.Type(), "lock read", err)
	default:
		var current Record
		if unmarshalErr := json.Unmarshal(existing.Value, &current); unmarshalErr != nil {
			// Unreadable record: treat as abandoned, take over its version.
			expectedVersion = existing.Version
			recovered = true
		} else if current.Expired(m.now()) || opts.Force {
			expectedVersion = existing.Version
			recovered = current.Expired(m.now())
		} else {
			return nil, errors.LockHeldError(key, current.Holder, current.Remaining(m.now()))
		}
	}

	record := Record{
		ID:         uuid.New().String(),
		Key:        key,
		Holder:     holder,
		AcquiredAt: m.now(),
		TTL:        ttl,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock record: %w", err)
	}

	version, err := m.store.Put(ctx, lk, data, expectedVersion)
	if err != nil {
		if errors.Is(err, errors.ErrCodeVersionConflict) {
			// Lost the race: someone else claimed the key between our read
			// and the conditional write.
			return nil, errors.LockHeldError(key, "unknown", ttl)
		}
		return nil, errors.BackendError(m.store.Type(), "lock write", err)
	}

	if recovered {
		m.logger.Warn("recovered stale lock",
			"key", key,
			"holder", holder,
			"lock_id", record.ID)
	}

	return &Handle{record: record, version: version, Recovered: recovered}, nil
}

// Renew extends the lock's ttl. It is a compare-and-swap against the
// handle's version; failure means exclusivity was lost and the in-flight
// operation must abort with an integrity error.
func (m *Manager) Renew(ctx context.Context, h *Handle, ttl time.Duration) error {
	if h == nil || h.released {
		return errors.LockExpiredError("", "")
	}

	h.record.AcquiredAt = m.now()
	h.record.TTL = ttl

	data, err := json.Marshal(h.record)
	if err != nil {
		return fmt.Errorf("failed to marshal lock record: %w", err)
	}

	version, err := m.store.Put(ctx, lockKey(h.record.Key), data, h.version)
	if err != nil {
		if errors.Is(err, errors.ErrCodeVersionConflict) {
			m.logger.Error("lock renewal lost exclusivity",
				"key", h.record.Key,
				"holder", h.record.Holder)
			return errors.LockExpiredError(h.record.Key, h.record.Holder)
		}
		return errors.BackendError(m.store.Type(), "lock renew", err)
	}

	h.version = version
	return nil
}

// Release removes the lock record. Releasing an already-released, expired
// or taken-over handle is a no-op, never an error.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil || h.released {
		return nil
	}
	h.released = true

	err := m.store.Delete(ctx, lockKey(h.record.Key), h.version)
	if err == nil || err == statestore.ErrNotFound || errors.Is(err, errors.ErrCodeVersionConflict) {
		return nil
	}
	return errors.BackendError(m.store.Type(), "lock release", err)
}

// ForceUnlock removes a key's lock record unconditionally. Operator
// override for crashed runs; the usual path is expiry-based recovery in
// Acquire.
func (m *Manager) ForceUnlock(ctx context.Context, key string) error {
	err := m.store.Delete(ctx, lockKey(key), statestore.AnyVersion)
	if err != nil && err != statestore.ErrNotFound {
		return errors.BackendError(m.store.Type(), "lock delete", err)
	}
	m.logger.Warn("force-unlocked", "key", key)
	return nil
}

// Inspect reads the current lock record for a key without claiming it.
// Returns nil when the key is unlocked.
func (m *Manager) Inspect(ctx context.Context, key string) (*Record, error) {
	rec, err := m.store.Get(ctx, lockKey(key))
	if err == statestore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendError(m.store.Type(), "lock read", err)
	}

	var record Record
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode lock record: %w", err)
	}
	return &record, nil
}
