// Package config loads the stack manifest (stack.yml) and the per-module
// deployment units (deploy.hcl) into the in-memory model.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stackforge/stackctl/pkg/statestore"
)

// DefaultManifest is the manifest filename looked up when none is given.
const DefaultManifest = "stack.yml"

// EnvironmentConfig declares one environment in the manifest.
type EnvironmentConfig struct {
	// Name of the environment.
	Name string `yaml:"name"`

	// Root is the directory (relative to the stack root) walked for
	// deployment units.
	Root string `yaml:"root"`

	// StatePrefix is the environment's state-store namespace. Defaults to
	// "stacks/<name>".
	StatePrefix string `yaml:"state_prefix"`
}

// BackendConfig selects and configures the state backend.
type BackendConfig struct {
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

// Stack is the parsed stack manifest.
type Stack struct {
	Version int `yaml:"version"`

	// Dir is the directory containing the manifest. Not part of the file.
	Dir string `yaml:"-"`

	Backend BackendConfig `yaml:"backend"`

	// Engine names the provisioning engine. Defaults to "opentofu".
	Engine string `yaml:"engine"`

	// MergePolicy controls mock merge-with-state precedence:
	// "prefer-state" (default) or "prefer-mock".
	MergePolicy string `yaml:"merge_policy"`

	Environments []EnvironmentConfig `yaml:"environments"`
}

// StoreConfig converts the manifest backend section into a backend factory
// config.
func (s *Stack) StoreConfig() statestore.Config {
	return statestore.Config{Type: s.Backend.Type, Config: s.Backend.Config}
}

// Environment returns the named environment config, or nil.
func (s *Stack) Environment(name string) *EnvironmentConfig {
	for i := range s.Environments {
		if s.Environments[i].Name == name {
			return &s.Environments[i]
		}
	}
	return nil
}

// LoadStack reads and validates a stack manifest.
func LoadStack(path string) (*Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var stack Stack
	if err := yaml.Unmarshal(data, &stack); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	stack.Dir = filepath.Dir(abs)
	stack.applyDefaults()

	if err := stack.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &stack, nil
}

func (s *Stack) applyDefaults() {
	if s.Backend.Type == "" {
		s.Backend.Type = "local"
	}
	if s.Engine == "" {
		s.Engine = "opentofu"
	}
	for i := range s.Environments {
		env := &s.Environments[i]
		if env.StatePrefix == "" {
			env.StatePrefix = "stacks/" + env.Name
		}
		if env.Root == "" {
			env.Root = env.Name
		}
	}
}

func (s *Stack) validate() error {
	if len(s.Environments) == 0 {
		return fmt.Errorf("no environments declared")
	}

	names := make(map[string]bool)
	prefixes := make(map[string]string)
	for _, env := range s.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment with empty name")
		}
		if names[env.Name] {
			return fmt.Errorf("environment %q declared twice", env.Name)
		}
		names[env.Name] = true

		if other, ok := prefixes[env.StatePrefix]; ok {
			return fmt.Errorf("environments %q and %q share state prefix %q", other, env.Name, env.StatePrefix)
		}
		prefixes[env.StatePrefix] = env.Name
	}
	return nil
}
