package config

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/stackforge/stackctl/pkg/changes"
	"github.com/stackforge/stackctl/pkg/module"
)

// LoadEnvironment walks an environment's root for deployment units and
// builds the in-memory environment. The walk is lexical, so module order
// (the scheduling tie-breaker) is stable across runs and machines.
func LoadEnvironment(stack *Stack, cfg *EnvironmentConfig) (*module.Environment, error) {
	root := filepath.Join(stack.Dir, cfg.Root)

	env := &module.Environment{
		Name:        cfg.Name,
		StatePrefix: cfg.StatePrefix,
	}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != UnitFile {
			return nil
		}

		unit, err := ParseUnit(p)
		if err != nil {
			return err
		}

		dir := filepath.Dir(p)
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		modulePath := path.Clean(filepath.ToSlash(rel))
		if modulePath == "." {
			return fmt.Errorf("deployment unit at environment root %s must live in a subdirectory", root)
		}

		m, err := buildModule(cfg.Name, modulePath, dir, unit)
		if err != nil {
			return err
		}
		env.Modules = append(env.Modules, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load environment %s: %w", cfg.Name, err)
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// LoadEnvironments loads every environment declared in the manifest, in
// manifest order.
func LoadEnvironments(stack *Stack) ([]*module.Environment, error) {
	envs := make([]*module.Environment, 0, len(stack.Environments))
	for i := range stack.Environments {
		env, err := LoadEnvironment(stack, &stack.Environments[i])
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func buildModule(envName, modulePath, dir string, unit *Unit) (*module.Module, error) {
	m := &module.Module{
		Environment: envName,
		Path:        modulePath,
		Dir:         dir,
		Inputs:      unit.Inputs,
	}

	if unit.Source != "" {
		m.SourceRoot = filepath.Clean(filepath.Join(dir, unit.Source))
	}

	for _, dep := range unit.Dependencies {
		if len(dep.Outputs) == 0 {
			// Ordering-only dependency.
			m.DependsOn = append(m.DependsOn, module.Edge{
				Consumer:            modulePath,
				Producer:            dep.Producer,
				ProducerEnvironment: dep.Environment,
			})
		}
		for _, output := range dep.Outputs {
			m.DependsOn = append(m.DependsOn, module.Edge{
				Consumer:            modulePath,
				Producer:            dep.Producer,
				ProducerEnvironment: dep.Environment,
				Output:              output,
			})
		}

		if len(dep.MockOutputs) > 0 || len(dep.MockAllowedOperations) > 0 {
			mock, err := buildMock(dep)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", modulePath, err)
			}
			if m.Mocks == nil {
				m.Mocks = make(map[string]*module.Mock)
			}
			m.Mocks[dep.Producer] = mock
		}
	}

	return m, nil
}

func buildMock(dep Dependency) (*module.Mock, error) {
	mock := &module.Mock{
		Outputs:        dep.MockOutputs,
		MergeWithState: dep.MergeWithState,
	}
	for _, name := range dep.MockAllowedOperations {
		op := module.Operation(strings.ToLower(name))
		switch op {
		case module.OperationPlan, module.OperationDestroy:
			mock.AllowedOperations = append(mock.AllowedOperations, op)
		case module.OperationApply:
			return nil, fmt.Errorf("dependency %q: apply may never consume mock outputs", dep.Producer)
		default:
			return nil, fmt.Errorf("dependency %q: unknown operation %q in mock allow-list", dep.Producer, name)
		}
	}
	return mock, nil
}

// BuildOwnershipMap maps each module's live directory and shared source
// root (when declared) to the modules they affect. Roots are relative to
// the stack directory so they line up with VCS-relative change paths.
func BuildOwnershipMap(stack *Stack, envs []*module.Environment) (*changes.OwnershipMap, error) {
	owners := changes.NewOwnershipMap()

	for _, env := range envs {
		for _, m := range env.Modules {
			ref := changes.ModuleRef{Environment: env.Name, Module: m.Path}

			dir, err := filepath.Rel(stack.Dir, m.Dir)
			if err != nil {
				return nil, err
			}
			owners.Add(filepath.ToSlash(dir), ref)

			if m.SourceRoot != "" {
				src, err := filepath.Rel(stack.Dir, m.SourceRoot)
				if err != nil {
					return nil, err
				}
				owners.Add(filepath.ToSlash(src), ref)
			}
		}
	}
	return owners, nil
}
