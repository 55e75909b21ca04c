// Package module defines the deployment unit model: modules, environments
// and the dependency edges between them. Modules are opaque to the
// orchestrator; it only knows their identity, declared inputs and the
// outputs they exchange.
package module

import (
	"fmt"
	"path"
)

// Operation is a deployment operation delegated to the provisioning engine.
type Operation string

const (
	OperationPlan    Operation = "plan"
	OperationApply   Operation = "apply"
	OperationDestroy Operation = "destroy"
)

// Destructive reports whether the operation mutates infrastructure.
func (o Operation) Destructive() bool {
	return o == OperationApply || o == OperationDestroy
}

// Lifecycle is the recorded lifecycle state of a module.
type Lifecycle string

const (
	LifecycleUnplanned Lifecycle = "unplanned"
	LifecyclePlanned   Lifecycle = "planned"
	LifecycleApplied   Lifecycle = "applied"
	LifecycleFailed    Lifecycle = "failed"
	LifecycleDestroyed Lifecycle = "destroyed"
)

// Edge declares that Consumer reads Output from Producer. Producer and
// Consumer are module paths; ProducerEnvironment is set only in invalid
// configurations (edges may not cross environments, and the graph builder
// rejects them).
type Edge struct {
	Consumer            string
	Producer            string
	ProducerEnvironment string
	Output              string
}

// Mock declares a placeholder output set for an undeployed producer. The
// consumer owns the declaration: it knows which synthetic values are safe
// for which operations.
type Mock struct {
	// Outputs maps output names to placeholder values.
	Outputs map[string]interface{}

	// AllowedOperations lists the operations that may consume these
	// placeholders. Empty means plan only. Apply is never allowed,
	// regardless of declaration.
	AllowedOperations []Operation

	// MergeWithState prefers the producer's last recorded real value over
	// the placeholder for keys present in both.
	MergeWithState bool
}

// Allows reports whether the mock may be consumed by the given operation.
func (m *Mock) Allows(op Operation) bool {
	if op == OperationApply {
		return false
	}
	if len(m.AllowedOperations) == 0 {
		return op == OperationPlan
	}
	for _, allowed := range m.AllowedOperations {
		if allowed == op {
			return true
		}
	}
	return false
}

// Module is a unit of infrastructure configuration scoped to one
// environment. Identity is (Environment, Path).
type Module struct {
	// Environment owning this module.
	Environment string

	// Path identifies the module within its environment (e.g., "vpc",
	// "services/api").
	Path string

	// Dir is the module's source directory on disk, handed to the
	// provisioning engine.
	Dir string

	// SourceRoot is the shared library root this module references, if any.
	// Used by the change detector.
	SourceRoot string

	// Inputs are the declared input bindings passed to the engine.
	Inputs map[string]interface{}

	// DependsOn lists this module's dependency edges (Consumer == Path).
	DependsOn []Edge

	// Mocks holds declared placeholder outputs, keyed by producer path.
	Mocks map[string]*Mock

	// State is the recorded lifecycle state.
	State Lifecycle
}

// ID returns the module's globally unique identity.
func (m *Module) ID() string {
	return m.Environment + "/" + m.Path
}

// Mock returns the declared mock for the given producer, or nil.
func (m *Module) Mock(producer string) *Mock {
	if m.Mocks == nil {
		return nil
	}
	return m.Mocks[producer]
}

// Environment is an isolated deployment target: an ordered set of modules
// plus its own state namespace. Module order is declaration order and is
// the tie-breaker for scheduling.
type Environment struct {
	// Name of the environment (e.g., "dev", "prod").
	Name string

	// StatePrefix is the environment's state-store key prefix. No two
	// environments may share a prefix.
	StatePrefix string

	// Modules in declaration order.
	Modules []*Module
}

// Module returns the module with the given path, or nil.
func (e *Environment) Module(modulePath string) *Module {
	for _, m := range e.Modules {
		if m.Path == modulePath {
			return m
		}
	}
	return nil
}

// StateKey returns the state-store key for a module's state document.
func (e *Environment) StateKey(modulePath string) string {
	return path.Join(e.StatePrefix, "modules", modulePath+".state.json")
}

// Validate checks environment-local structural invariants: unique module
// paths and edges referencing declared modules.
func (e *Environment) Validate() error {
	seen := make(map[string]bool)
	for _, m := range e.Modules {
		if seen[m.Path] {
			return fmt.Errorf("environment %s declares module %q twice", e.Name, m.Path)
		}
		seen[m.Path] = true
	}
	return nil
}
