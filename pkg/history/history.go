// Package history maintains the append-only deployment record log and the
// environment snapshots that make past deployments reproducible.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/module"
	"github.com/stackforge/stackctl/pkg/statestore"
)

// Status is the terminal outcome of one module within a deployment.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ModuleOutcome records how one module fared in a deployment.
type ModuleOutcome struct {
	Status   Status                 `json:"status"`
	Error    string                 `json:"error,omitempty"`
	Outputs  map[string]interface{} `json:"outputs,omitempty"`
	Duration time.Duration          `json:"duration_ns,omitempty"`
}

// Record is one immutable entry in an environment's deployment history.
// Versions are assigned sequentially at append time and never reused.
type Record struct {
	Environment string                   `json:"environment"`
	Version     int                      `json:"version"`
	Commit      string                   `json:"commit,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
	Operation   module.Operation         `json:"operation"`
	Modules     map[string]ModuleOutcome `json:"modules"`
	SnapshotRef string                   `json:"snapshot_ref,omitempty"`
}

// FullySuccessful reports whether every module in the record succeeded.
// Rollback only targets fully successful apply records.
func (r *Record) FullySuccessful() bool {
	if r.Operation != module.OperationApply || len(r.Modules) == 0 {
		return false
	}
	for _, outcome := range r.Modules {
		if outcome.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// ModuleSnapshot captures one module's configuration and outputs as deployed.
type ModuleSnapshot struct {
	Path    string                 `json:"path"`
	Dir     string                 `json:"dir,omitempty"`
	Inputs  map[string]interface{} `json:"inputs,omitempty"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
	Edges   []module.Edge          `json:"edges,omitempty"`
}

// Snapshot is the full environment configuration captured alongside a
// deployment record, in declaration order.
type Snapshot struct {
	Environment string           `json:"environment"`
	Version     int              `json:"version"`
	Modules     []ModuleSnapshot `json:"modules"`
}

// Log is the per-environment deployment record log. Appends are create-only
// conditional writes: two concurrent appends race for the same sequence
// number and the loser retries at the next one, so versions are dense and
// every record is written exactly once.
type Log struct {
	store  statestore.Store
	prefix string
	env    string
}

// NewLog creates a log for the environment rooted at its state prefix.
func NewLog(store statestore.Store, env *module.Environment) *Log {
	return &Log{store: store, prefix: env.StatePrefix, env: env.Name}
}

const appendAttempts = 10

// Append writes a new record with the next available version. The record's
// Version and Timestamp are assigned here; the caller's values are ignored.
// When a snapshot is supplied it is stored first and referenced from the
// record.
func (l *Log) Append(ctx context.Context, record *Record, snapshot *Snapshot) (*Record, error) {
	next, err := l.nextVersion(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		record.Environment = l.env
		record.Version = next
		record.Timestamp = time.Now().UTC()

		if snapshot != nil {
			snapshot.Environment = l.env
			snapshot.Version = next
			if err := l.writeSnapshot(ctx, snapshot); err != nil {
				return nil, err
			}
			record.SnapshotRef = l.snapshotKey(next)
		}

		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}

		_, err = l.store.Put(ctx, l.recordKey(next), data, statestore.NoVersion)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, errors.ErrCodeVersionConflict) {
			return nil, errors.BackendError(l.store.Type(), "history append", err)
		}

		// Lost the race for this version; another deployment claimed it.
		next++
	}

	return nil, fmt.Errorf("gave up appending deployment record after %d attempts", appendAttempts)
}

// Get reads the record with the given version.
func (l *Log) Get(ctx context.Context, version int) (*Record, error) {
	rec, err := l.store.Get(ctx, l.recordKey(version))
	if err == statestore.ErrNotFound {
		return nil, errors.NotFoundError("deployment record", fmt.Sprintf("%s/%d", l.env, version))
	}
	if err != nil {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %d: %w", version, err)
	}
	return &record, nil
}

// List returns all records, oldest first.
func (l *Log) List(ctx context.Context) ([]*Record, error) {
	versions, err := l.versions(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(versions))
	for _, version := range versions {
		record, err := l.Get(ctx, version)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Latest returns the most recent record, or nil when the log is empty.
func (l *Log) Latest(ctx context.Context) (*Record, error) {
	versions, err := l.versions(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return l.Get(ctx, versions[len(versions)-1])
}

// LatestSuccessful returns the most recent fully successful apply record, or
// nil when none exists.
func (l *Log) LatestSuccessful(ctx context.Context) (*Record, error) {
	versions, err := l.versions(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(versions) - 1; i >= 0; i-- {
		record, err := l.Get(ctx, versions[i])
		if err != nil {
			return nil, err
		}
		if record.FullySuccessful() {
			return record, nil
		}
	}
	return nil, nil
}

// GetSnapshot reads the snapshot captured with the given record version.
func (l *Log) GetSnapshot(ctx context.Context, version int) (*Snapshot, error) {
	rec, err := l.store.Get(ctx, l.snapshotKey(version))
	if err == statestore.ErrNotFound {
		return nil, errors.SnapshotMissingError(l.env, version, err)
	}
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(rec.Value, &snapshot); err != nil {
		return nil, errors.SnapshotMissingError(l.env, version, err)
	}
	return &snapshot, nil
}

func (l *Log) writeSnapshot(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = l.store.Put(ctx, l.snapshotKey(snapshot.Version), data, statestore.AnyVersion)
	if err != nil {
		return errors.BackendError(l.store.Type(), "snapshot write", err)
	}
	return nil
}

// versions lists existing record versions in ascending order.
func (l *Log) versions(ctx context.Context) ([]int, error) {
	prefix := path.Join(l.prefix, "history") + "/"
	keys, err := l.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var versions []int
	for _, key := range keys {
		name := strings.TrimSuffix(path.Base(key), ".record.json")
		version, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		versions = append(versions, version)
	}
	sort.Ints(versions)
	return versions, nil
}

func (l *Log) nextVersion(ctx context.Context) (int, error) {
	versions, err := l.versions(ctx)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 1, nil
	}
	return versions[len(versions)-1] + 1, nil
}

func (l *Log) recordKey(version int) string {
	return path.Join(l.prefix, "history", fmt.Sprintf("%08d.record.json", version))
}

func (l *Log) snapshotKey(version int) string {
	return path.Join(l.prefix, "snapshots", fmt.Sprintf("%08d.snapshot.json", version))
}
