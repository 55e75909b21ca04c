// Package graph builds and orders the per-environment module dependency
// graph.
package graph

import (
	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/module"
)

// Build validates the environment's dependency edges and returns its
// modules in dependency order (producers before consumers). Ties among
// modules with no remaining dependency are broken by declaration order, so
// the result is deterministic and stable.
//
// Build is a pure function: it rejects self-edges, edges that cross
// environment boundaries and edges referencing undeclared producers, and
// fails with a CycleError when the edges do not form a DAG.
func Build(env *module.Environment) ([]*module.Module, error) {
	if err := env.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "invalid environment", err)
	}

	index := make(map[string]int, len(env.Modules))
	for i, m := range env.Modules {
		index[m.Path] = i
	}

	// deps[path] holds the distinct producer paths of each module.
	deps := make(map[string][]string, len(env.Modules))
	for _, m := range env.Modules {
		seen := make(map[string]bool)
		for _, edge := range m.DependsOn {
			if edge.Producer == m.Path {
				return nil, errors.SelfEdgeError(env.Name, m.Path)
			}
			if edge.ProducerEnvironment != "" && edge.ProducerEnvironment != env.Name {
				return nil, errors.CrossEnvironmentDependencyError(m.Path, env.Name, edge.Producer, edge.ProducerEnvironment)
			}
			if _, ok := index[edge.Producer]; !ok {
				return nil, errors.New(errors.ErrCodeValidation,
					"module "+m.Path+" depends on undeclared module "+edge.Producer).
					WithDetail("environment", env.Name)
			}
			if !seen[edge.Producer] {
				seen[edge.Producer] = true
				deps[m.Path] = append(deps[m.Path], edge.Producer)
			}
		}
	}

	// Kahn's algorithm. Instead of a queue, each round scans the modules in
	// declaration order and emits the first one with no remaining
	// dependency; this makes declaration order the tie-breaker.
	inDegree := make(map[string]int, len(env.Modules))
	for path, producers := range deps {
		inDegree[path] = len(producers)
	}

	dependents := Dependents(env)
	emitted := make(map[string]bool, len(env.Modules))
	ordered := make([]*module.Module, 0, len(env.Modules))

	for len(ordered) < len(env.Modules) {
		next := -1
		for i, m := range env.Modules {
			if !emitted[m.Path] && inDegree[m.Path] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			// Remaining modules all have unsatisfied dependencies: cycle.
			return nil, errors.CycleError(env.Name, findCycle(env, deps, emitted))
		}

		m := env.Modules[next]
		emitted[m.Path] = true
		ordered = append(ordered, m)

		for _, consumer := range dependents[m.Path] {
			inDegree[consumer]--
		}
	}

	return ordered, nil
}

// Dependents maps each module path to the distinct paths of the modules
// that depend on it, in declaration order.
func Dependents(env *module.Environment) map[string][]string {
	dependents := make(map[string][]string)
	for _, m := range env.Modules {
		seen := make(map[string]bool)
		for _, edge := range m.DependsOn {
			if !seen[edge.Producer] {
				seen[edge.Producer] = true
				dependents[edge.Producer] = append(dependents[edge.Producer], m.Path)
			}
		}
	}
	return dependents
}

// TransitiveDependents returns every module path that transitively depends
// on the given module, in breadth-first order.
func TransitiveDependents(env *module.Environment, modulePath string) []string {
	dependents := Dependents(env)

	var result []string
	visited := map[string]bool{modulePath: true}
	frontier := []string{modulePath}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, consumer := range dependents[current] {
			if !visited[consumer] {
				visited[consumer] = true
				result = append(result, consumer)
				frontier = append(frontier, consumer)
			}
		}
	}

	return result
}

// findCycle walks unemitted modules along their unsatisfied producers until
// a path repeats, returning the cycle with the starting module appended at
// the end.
func findCycle(env *module.Environment, deps map[string][]string, emitted map[string]bool) []string {
	var start string
	for _, m := range env.Modules {
		if !emitted[m.Path] {
			start = m.Path
			break
		}
	}

	position := make(map[string]int)
	var path []string
	current := start

	for {
		if at, seen := position[current]; seen {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, current)
		}
		position[current] = len(path)
		path = append(path, current)

		advanced := false
		for _, producer := range deps[current] {
			if !emitted[producer] {
				current = producer
				advanced = true
				break
			}
		}
		if !advanced {
			// Should not happen for a genuine cycle; bail out with what we have.
			return append(path, current)
		}
	}
}
