package ciworkflow

import (
	"strings"
	"testing"

	"github.com/stackforge/stackctl/pkg/config"
	"github.com/stackforge/stackctl/pkg/module"
)

func testStack() *config.Stack {
	return &config.Stack{
		Environments: []config.EnvironmentConfig{
			{Name: "dev"},
			{Name: "staging"},
			{Name: "prod"},
		},
	}
}

func testEnvs() []*module.Environment {
	return []*module.Environment{
		{
			Name: "dev",
			Modules: []*module.Module{
				{Environment: "dev", Path: "vpc"},
				{Environment: "dev", Path: "app", DependsOn: []module.Edge{
					{Consumer: "app", Producer: "vpc", Output: "vpc_id"},
					{Consumer: "app", Producer: "vpc", Output: "subnet_ids"},
				}},
			},
		},
	}
}

func TestBuild_PromotionOrder(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{})

	if len(w.Jobs) != 4 {
		t.Fatalf("expected plan gate plus 3 deploy jobs, got %d", len(w.Jobs))
	}
	if w.Jobs[0].ID != "plan" {
		t.Errorf("expected plan gate first, got %q", w.Jobs[0].ID)
	}

	wantDeps := map[string]string{
		"deploy-dev":     "plan",
		"deploy-staging": "deploy-dev",
		"deploy-prod":    "deploy-staging",
	}
	for _, job := range w.Jobs[1:] {
		if len(job.DependsOn) != 1 || job.DependsOn[0] != wantDeps[job.ID] {
			t.Errorf("expected %s to depend on %s, got %v", job.ID, wantDeps[job.ID], job.DependsOn)
		}
	}
}

func TestBuild_TeardownReversesOrder(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{})

	if len(w.TeardownJobs) != 3 {
		t.Fatalf("expected 3 teardown jobs, got %d", len(w.TeardownJobs))
	}
	if w.TeardownJobs[0].ID != "teardown-prod" {
		t.Errorf("expected prod torn down first, got %q", w.TeardownJobs[0].ID)
	}
	if len(w.TeardownJobs[0].DependsOn) != 0 {
		t.Errorf("first teardown job must not wait on anything, got %v", w.TeardownJobs[0].DependsOn)
	}
	last := w.TeardownJobs[2]
	if last.ID != "teardown-dev" || len(last.DependsOn) != 1 || last.DependsOn[0] != "teardown-staging" {
		t.Errorf("expected dev torn down last after staging, got %+v", last)
	}
}

func TestBuild_Commands(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{Manifest: "infra/stack.yml", Concurrency: 3})

	if w.Jobs[0].Command != "stackctl plan --stack infra/stack.yml" {
		t.Errorf("unexpected plan command %q", w.Jobs[0].Command)
	}

	apply := w.Jobs[1].Command
	for _, part := range []string{"stackctl apply dev", "--auto-approve", `--commit "$COMMIT_SHA"`, "--concurrency 3"} {
		if !strings.Contains(apply, part) {
			t.Errorf("expected apply command to contain %q, got %q", part, apply)
		}
	}

	destroy := w.TeardownJobs[0].Command
	if !strings.Contains(destroy, "stackctl destroy prod") || !strings.Contains(destroy, "--auto-approve") {
		t.Errorf("unexpected destroy command %q", destroy)
	}
	if strings.Contains(destroy, "--commit") {
		t.Errorf("destroy must not pass --commit, got %q", destroy)
	}
}

func TestBuild_GraphsDeduplicateEdges(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{})

	if len(w.Graphs) != 1 {
		t.Fatalf("expected 1 graph, got %d", len(w.Graphs))
	}
	graph := w.Graphs[0]
	// Two output edges to the same producer collapse to one graph edge.
	if len(graph.Edges) != 1 {
		t.Errorf("expected 1 deduplicated edge, got %v", graph.Edges)
	}
	if graph.Edges[0] != [2]string{"app", "vpc"} {
		t.Errorf("expected app->vpc edge, got %v", graph.Edges[0])
	}
}

func TestNewGenerator(t *testing.T) {
	for _, name := range ValidOutputTypes() {
		if _, err := NewGenerator(OutputType(name)); err != nil {
			t.Errorf("expected generator for %s, got %v", name, err)
		}
	}
	if _, err := NewGenerator("jenkins"); err == nil {
		t.Error("expected error for unknown output type")
	}
}

func TestGenerate_GitHubActions(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{})
	gen := NewGitHubActionsGenerator()

	out, err := gen.Generate(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := string(out)
	for _, want := range []string{"deploy-dev", "needs:", "stackctl apply dev", "${{ github.sha }}"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}

	teardown, err := gen.GenerateTeardown(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(teardown), "workflow_dispatch") {
		t.Error("expected teardown to be manually dispatched")
	}
}

func TestGenerate_GitLabCI(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{})
	gen := NewGitLabCIGenerator()

	out, err := gen.Generate(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := string(out)
	for _, want := range []string{"stages:", "deploy-prod", "$CI_COMMIT_SHA"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

func TestGenerate_CircleCI(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{})
	gen := NewCircleCIGenerator()

	out, err := gen.Generate(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := string(out)
	for _, want := range []string{"version: 2.1", "workflows:", "requires:"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

func TestGenerate_Mermaid(t *testing.T) {
	w := Build(testStack(), testEnvs(), BuildOptions{})
	gen := NewMermaidGenerator()

	out, err := gen.Generate(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := string(out)
	for _, want := range []string{"flowchart TD", "subgraph", "vpc", "app"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}

	teardown, err := gen.GenerateTeardown(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if teardown != nil {
		t.Error("mermaid output has no teardown variant")
	}
}

func TestSanitizeID(t *testing.T) {
	if got := sanitizeID("Prod US/East.1"); got != "prod-us-east-1" {
		t.Errorf("unexpected sanitized id %q", got)
	}
}
