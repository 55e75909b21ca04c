// Package ciworkflow generates CI/CD pipeline files that drive stackctl.
// It supports multiple CI providers (GitHub Actions, GitLab CI, CircleCI)
// plus a mermaid rendering of the module dependency graph.
package ciworkflow

// OutputType identifies the type of output to generate.
type OutputType string

const (
	TypeGitHubActions OutputType = "github-actions"
	TypeGitLabCI      OutputType = "gitlab-ci"
	TypeCircleCI      OutputType = "circleci"
	TypeMermaid       OutputType = "mermaid"
)

// ValidOutputTypes returns all valid output type values.
func ValidOutputTypes() []string {
	return []string{
		string(TypeGitHubActions),
		string(TypeGitLabCI),
		string(TypeCircleCI),
		string(TypeMermaid),
	}
}

// IsCIType returns true if the output type is a CI provider (not visualization).
func (t OutputType) IsCIType() bool {
	switch t {
	case TypeGitHubActions, TypeGitLabCI, TypeCircleCI:
		return true
	default:
		return false
	}
}

// Workflow is the intermediate representation of a pipeline. CI provider
// generators consume this to produce provider-specific YAML.
type Workflow struct {
	// Name is the workflow display name (e.g., "Deploy my-stack").
	Name string

	// Manifest is the stack manifest path baked into every command, empty
	// when the default ./stack.yml applies.
	Manifest string

	// InstallVersion is the stackctl version to install in CI jobs.
	InstallVersion string

	// EnvVars are workflow-level environment variables. Keys are env var
	// names, values are the expressions/references (e.g.,
	// "${{ secrets.AWS_ACCESS_KEY_ID }}" for GitHub Actions).
	EnvVars map[string]string

	// Jobs is the deploy pipeline: a plan gate followed by one deploy job
	// per environment, in manifest (promotion) order.
	Jobs []Job

	// TeardownJobs tear environments down in reverse promotion order.
	TeardownJobs []Job

	// Graphs carries the per-environment module dependency graphs for
	// visualization output types.
	Graphs []EnvironmentGraph
}

// Job represents a single CI job in the pipeline.
type Job struct {
	// ID is the unique job identifier (e.g., "plan", "deploy-prod").
	ID string

	// Name is the human-readable job name.
	Name string

	// Environment this job operates on. Empty for the plan gate.
	Environment string

	// DependsOn lists job IDs this job depends on.
	DependsOn []string

	// Command is the full stackctl command for this job.
	Command string
}

// EnvironmentGraph is one environment's module dependency graph.
type EnvironmentGraph struct {
	// Name of the environment.
	Name string

	// Modules in declaration order.
	Modules []string

	// Edges as (consumer, producer) pairs.
	Edges [][2]string
}

// Generator is the interface for provider-specific workflow generators.
type Generator interface {
	// Generate produces the deploy pipeline file content.
	Generate(w Workflow) ([]byte, error)

	// GenerateTeardown produces the teardown pipeline file content. A nil
	// result means the provider has no separate teardown file.
	GenerateTeardown(w Workflow) ([]byte, error)

	// DefaultOutputPath returns the conventional output path for this provider.
	DefaultOutputPath() string

	// DefaultTeardownOutputPath returns the conventional teardown output path.
	DefaultTeardownOutputPath() string
}
