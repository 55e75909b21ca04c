// Package changes maps changed file paths to the set of affected
// environments and modules.
package changes

import (
	"sort"
	"strings"
)

// ModuleRef identifies a module within an environment.
type ModuleRef struct {
	Environment string
	Module      string
}

// OwnershipMap associates path roots with the modules that own them. A live
// configuration root maps to exactly one module; a shared library root maps
// to every module (in every environment) that references it.
type OwnershipMap struct {
	entries map[string][]ModuleRef
}

// NewOwnershipMap creates an empty ownership map.
func NewOwnershipMap() *OwnershipMap {
	return &OwnershipMap{entries: make(map[string][]ModuleRef)}
}

// Add registers refs as owners of the given root. Adding the same root
// twice appends owners.
func (m *OwnershipMap) Add(root string, refs ...ModuleRef) {
	root = normalize(root)
	m.entries[root] = append(m.entries[root], refs...)
}

// Roots returns the registered roots, sorted.
func (m *OwnershipMap) Roots() []string {
	roots := make([]string, 0, len(m.entries))
	for root := range m.entries {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Affected maps a set of changed paths to the affected (environment,
// module) pairs. Ownership is decided by longest-prefix match between each
// changed path and the registered roots; paths under no root affect
// nothing. The result is deduplicated and sorted, so the same input always
// yields the same output.
func Affected(changedPaths []string, m *OwnershipMap) []ModuleRef {
	seen := make(map[ModuleRef]bool)

	for _, changed := range changedPaths {
		changed = normalize(changed)

		best := ""
		for root := range m.entries {
			if !owns(root, changed) {
				continue
			}
			if len(root) > len(best) {
				best = root
			}
		}
		if best == "" {
			continue
		}

		for _, ref := range m.entries[best] {
			seen[ref] = true
		}
	}

	result := make([]ModuleRef, 0, len(seen))
	for ref := range seen {
		result = append(result, ref)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Environment != result[j].Environment {
			return result[i].Environment < result[j].Environment
		}
		return result[i].Module < result[j].Module
	})

	return result
}

// Environments returns the distinct environments in a set of refs, sorted.
func Environments(refs []ModuleRef) []string {
	seen := make(map[string]bool)
	for _, ref := range refs {
		seen[ref.Environment] = true
	}

	envs := make([]string, 0, len(seen))
	for env := range seen {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	return envs
}

// owns reports whether root is a path-segment prefix of p.
func owns(root, p string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.Trim(p, "/")
}
