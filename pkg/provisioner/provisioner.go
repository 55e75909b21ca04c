// Package provisioner defines the provisioning engine contract and a
// registry of engine implementations. The engine is an opaque, potentially
// slow collaborator: the orchestrator hands it a module and resolved
// inputs, and reads back success/outputs or failure/diagnostics.
package provisioner

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/stackforge/stackctl/pkg/module"
)

// Request describes one engine invocation.
type Request struct {
	// Environment and Module identify the unit being operated on.
	Environment string
	Module      string

	// Dir is the module's source directory.
	Dir string

	// Inputs are the fully resolved input values (declared inputs plus
	// resolved dependency outputs).
	Inputs map[string]interface{}

	// Env contains extra environment variables for the execution.
	Env map[string]string

	// Stdout/Stderr for engine output. May be nil.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of an engine invocation.
type Result struct {
	Success     bool
	Outputs     map[string]interface{}
	Diagnostics string
}

// Engine is the external provisioning engine boundary.
type Engine interface {
	// Name returns the engine identifier (e.g., "opentofu", "fake")
	Name() string

	// Plan previews changes without mutating infrastructure.
	Plan(ctx context.Context, req Request) (*Result, error)

	// Apply creates or updates the module's resources and returns outputs.
	Apply(ctx context.Context, req Request) (*Result, error)

	// Destroy tears down the module's resources.
	Destroy(ctx context.Context, req Request) (*Result, error)

	// Output reads the module's current outputs without changing anything.
	// Used to verify effects after an operation of uncertain outcome.
	Output(ctx context.Context, req Request) (map[string]interface{}, error)
}

// Run dispatches a request to the engine method matching the operation.
func Run(ctx context.Context, engine Engine, op module.Operation, req Request) (*Result, error) {
	switch op {
	case module.OperationPlan:
		return engine.Plan(ctx, req)
	case module.OperationApply:
		return engine.Apply(ctx, req)
	case module.OperationDestroy:
		return engine.Destroy(ctx, req)
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

// Factory creates an engine.
type Factory func() (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds an engine factory. Called from engine package init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get builds the named engine.
func Get(name string) (Engine, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provisioning engine %q (registered: %v)", name, Registered())
	}
	return factory()
}

// Registered returns the names of all registered engines.
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
