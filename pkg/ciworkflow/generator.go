package ciworkflow

import (
	"fmt"
	"strings"

	"github.com/stackforge/stackctl/pkg/config"
	"github.com/stackforge/stackctl/pkg/module"
)

// BuildOptions tunes pipeline generation.
type BuildOptions struct {
	// Manifest is the stack manifest path passed via --stack. Empty means
	// the default ./stack.yml.
	Manifest string

	// InstallVersion pins the stackctl version installed in CI jobs.
	InstallVersion string

	// Concurrency is passed through to the generated apply commands when
	// non-zero.
	Concurrency int
}

// Build converts a stack into the provider-neutral pipeline representation.
//
// The deploy pipeline is a plan gate followed by one deploy job per
// environment: environments promote in manifest order, so prod only
// deploys after everything before it succeeded. Teardown reverses that
// order.
func Build(stack *config.Stack, envs []*module.Environment, opts BuildOptions) Workflow {
	w := Workflow{
		Name:           "Deploy stack",
		Manifest:       opts.Manifest,
		InstallVersion: opts.InstallVersion,
	}

	w.Jobs = append(w.Jobs, Job{
		ID:      "plan",
		Name:    "Plan all environments",
		Command: command("plan", "", opts),
	})

	previous := "plan"
	for _, env := range stack.Environments {
		id := "deploy-" + sanitizeID(env.Name)
		w.Jobs = append(w.Jobs, Job{
			ID:          id,
			Name:        "Deploy " + env.Name,
			Environment: env.Name,
			DependsOn:   []string{previous},
			Command:     command("apply", env.Name, opts),
		})
		previous = id
	}

	previous = ""
	for i := len(stack.Environments) - 1; i >= 0; i-- {
		env := stack.Environments[i]
		id := "teardown-" + sanitizeID(env.Name)
		job := Job{
			ID:          id,
			Name:        "Destroy " + env.Name,
			Environment: env.Name,
			Command:     command("destroy", env.Name, opts),
		}
		if previous != "" {
			job.DependsOn = []string{previous}
		}
		w.TeardownJobs = append(w.TeardownJobs, job)
		previous = id
	}

	for _, env := range envs {
		graph := EnvironmentGraph{Name: env.Name}
		for _, m := range env.Modules {
			graph.Modules = append(graph.Modules, m.Path)
			seen := make(map[string]bool)
			for _, edge := range m.DependsOn {
				if seen[edge.Producer] {
					continue
				}
				seen[edge.Producer] = true
				graph.Edges = append(graph.Edges, [2]string{m.Path, edge.Producer})
			}
		}
		w.Graphs = append(w.Graphs, graph)
	}

	return w
}

// NewGenerator returns the generator for an output type.
func NewGenerator(t OutputType) (Generator, error) {
	switch t {
	case TypeGitHubActions:
		return NewGitHubActionsGenerator(), nil
	case TypeGitLabCI:
		return NewGitLabCIGenerator(), nil
	case TypeCircleCI:
		return NewCircleCIGenerator(), nil
	case TypeMermaid:
		return NewMermaidGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown output type %q (valid: %s)", t, strings.Join(ValidOutputTypes(), ", "))
	}
}

// command assembles one stackctl invocation.
func command(verb, env string, opts BuildOptions) string {
	parts := []string{"stackctl", verb}
	if env != "" {
		parts = append(parts, env)
	}
	if opts.Manifest != "" {
		parts = append(parts, "--stack", opts.Manifest)
	}
	if verb != "plan" {
		parts = append(parts, "--auto-approve")
	}
	if verb == "apply" {
		parts = append(parts, "--commit", "\"$COMMIT_SHA\"")
		if opts.Concurrency > 0 {
			parts = append(parts, fmt.Sprintf("--concurrency %d", opts.Concurrency))
		}
	}
	return strings.Join(parts, " ")
}

// sanitizeID makes an environment name safe for job identifiers.
func sanitizeID(name string) string {
	r := strings.NewReplacer(" ", "-", "/", "-", ".", "-")
	return strings.ToLower(r.Replace(name))
}

// installCommand builds the stackctl install step command.
func installCommand(version string) string {
	cmd := "curl -sSL https://get.stackforge.dev/stackctl | sh"
	if version != "" && version != "latest" {
		cmd = fmt.Sprintf("%s -s -- --version %s", "curl -sSL https://get.stackforge.dev/stackctl | sh", version)
	}
	return cmd
}
