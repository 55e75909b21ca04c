// Package rollback re-deploys an environment from the snapshot of a past
// fully successful deployment. History is forward-only: a rollback is a new
// deployment record, never a rewrite of old ones.
package rollback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/executor"
	"github.com/stackforge/stackctl/pkg/history"
	"github.com/stackforge/stackctl/pkg/module"
	"github.com/stackforge/stackctl/pkg/state"
)

// Manager resolves rollback targets and replays them.
type Manager struct {
	states *state.Manager
	exec   *executor.Executor
	logger *slog.Logger
}

// New creates a rollback manager.
func New(states *state.Manager, exec *executor.Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{states: states, exec: exec, logger: logger}
}

// Target resolves which record a rollback would replay without running it.
// Version 0 selects the latest fully successful deployment.
func (m *Manager) Target(ctx context.Context, env *module.Environment, version int) (*history.Record, error) {
	log := history.NewLog(m.states.Store(), env)

	if version == 0 {
		record, err := log.LatestSuccessful(ctx)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, errors.NotFoundError("successful deployment", env.Name)
		}
		return record, nil
	}

	record, err := log.Get(ctx, version)
	if err != nil {
		return nil, err
	}
	if !record.FullySuccessful() {
		return nil, fmt.Errorf("deployment %d of %s was not fully successful and cannot be a rollback target", version, env.Name)
	}
	return record, nil
}

// Rollback replays the target deployment: the environment is rebuilt from
// the record's snapshot and applied in dependency order, appending a fresh
// record for the rollback itself. A record whose snapshot is gone fails
// with a snapshot-missing integrity error.
func (m *Manager) Rollback(ctx context.Context, env *module.Environment, version int, opts executor.Options) (*executor.Report, error) {
	record, err := m.Target(ctx, env, version)
	if err != nil {
		return nil, err
	}

	log := history.NewLog(m.states.Store(), env)
	snapshot, err := log.GetSnapshot(ctx, record.Version)
	if err != nil {
		return nil, err
	}

	target, err := Rebuild(env, snapshot)
	if err != nil {
		return nil, err
	}

	m.logger.Info("rolling back",
		"environment", env.Name,
		"target_version", record.Version,
		"modules", len(target.Modules))

	return m.exec.Execute(ctx, target, module.OperationApply, opts)
}

// Rebuild reconstructs a deployable environment from a snapshot. The
// current environment contributes only its identity and state namespace;
// module configuration comes entirely from the snapshot.
func Rebuild(env *module.Environment, snapshot *history.Snapshot) (*module.Environment, error) {
	if len(snapshot.Modules) == 0 {
		return nil, fmt.Errorf("snapshot %d of %s contains no modules", snapshot.Version, env.Name)
	}

	target := &module.Environment{
		Name:        env.Name,
		StatePrefix: env.StatePrefix,
		Modules:     make([]*module.Module, 0, len(snapshot.Modules)),
	}
	for _, snap := range snapshot.Modules {
		target.Modules = append(target.Modules, &module.Module{
			Environment: env.Name,
			Path:        snap.Path,
			Dir:         snap.Dir,
			Inputs:      snap.Inputs,
			DependsOn:   snap.Edges,
		})
	}

	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot %d of %s is not a valid environment: %w", snapshot.Version, env.Name, err)
	}
	return target, nil
}
