package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/stackctl/pkg/changes"
	"github.com/stackforge/stackctl/pkg/module"
)

func writeUnit(t *testing.T, root, modulePath, content string) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(modulePath))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, UnitFile), []byte(content), 0644))
}

func testStack(t *testing.T) (*Stack, *EnvironmentConfig) {
	t.Helper()
	stack := &Stack{
		Dir: t.TempDir(),
		Environments: []EnvironmentConfig{
			{Name: "dev", Root: "dev", StatePrefix: "stacks/dev"},
		},
	}
	return stack, &stack.Environments[0]
}

func TestLoadEnvironment(t *testing.T) {
	stack, cfg := testStack(t)
	root := filepath.Join(stack.Dir, "dev")

	writeUnit(t, root, "vpc", `
inputs = {
  cidr = "10.0.0.0/16"
}
`)
	writeUnit(t, root, "db", `
dependency "vpc" {
  outputs = ["vpc_id"]
}
`)

	env, err := LoadEnvironment(stack, cfg)
	require.NoError(t, err)

	assert.Equal(t, "dev", env.Name)
	assert.Equal(t, "stacks/dev", env.StatePrefix)
	require.Len(t, env.Modules, 2)

	// Lexical walk order: db before vpc.
	assert.Equal(t, "db", env.Modules[0].Path)
	assert.Equal(t, "vpc", env.Modules[1].Path)

	db := env.Modules[0]
	require.Len(t, db.DependsOn, 1)
	assert.Equal(t, module.Edge{Consumer: "db", Producer: "vpc", Output: "vpc_id"}, db.DependsOn[0])

	vpc := env.Modules[1]
	assert.Equal(t, "10.0.0.0/16", vpc.Inputs["cidr"])
	assert.Equal(t, filepath.Join(root, "vpc"), vpc.Dir)
}

func TestLoadEnvironment_NestedModulePaths(t *testing.T) {
	stack, cfg := testStack(t)
	root := filepath.Join(stack.Dir, "dev")

	writeUnit(t, root, "data/postgres", ``)
	writeUnit(t, root, "services/api", `
dependency "data/postgres" {
  outputs = ["dsn"]
}
`)

	env, err := LoadEnvironment(stack, cfg)
	require.NoError(t, err)
	require.Len(t, env.Modules, 2)
	assert.Equal(t, "data/postgres", env.Modules[0].Path)
	assert.Equal(t, "services/api", env.Modules[1].Path)
}

func TestLoadEnvironment_RootUnitRejected(t *testing.T) {
	stack, cfg := testStack(t)
	root := filepath.Join(stack.Dir, "dev")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, UnitFile), []byte(``), 0644))

	_, err := LoadEnvironment(stack, cfg)
	assert.ErrorContains(t, err, "subdirectory")
}

func TestLoadEnvironment_MockGating(t *testing.T) {
	stack, cfg := testStack(t)
	root := filepath.Join(stack.Dir, "dev")

	writeUnit(t, root, "db", ``)
	writeUnit(t, root, "app", `
dependency "db" {
  mock_outputs = {
    dsn = "postgres://mock"
  }
  mock_outputs_allowed_operations = ["plan"]
}
`)

	env, err := LoadEnvironment(stack, cfg)
	require.NoError(t, err)

	app := env.Modules[0]
	require.Contains(t, app.Mocks, "db")
	mock := app.Mocks["db"]
	assert.Equal(t, "postgres://mock", mock.Outputs["dsn"])
	assert.Equal(t, []module.Operation{module.OperationPlan}, mock.AllowedOperations)
}

func TestLoadEnvironment_ApplyInMockAllowListRejected(t *testing.T) {
	stack, cfg := testStack(t)
	root := filepath.Join(stack.Dir, "dev")

	writeUnit(t, root, "db", ``)
	writeUnit(t, root, "app", `
dependency "db" {
  mock_outputs = {
    dsn = "x"
  }
  mock_outputs_allowed_operations = ["apply"]
}
`)

	_, err := LoadEnvironment(stack, cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "apply may never consume mock outputs")
}

func TestLoadEnvironment_OrderingOnlyEdge(t *testing.T) {
	stack, cfg := testStack(t)
	root := filepath.Join(stack.Dir, "dev")

	writeUnit(t, root, "dns", ``)
	writeUnit(t, root, "lb", `
dependency "dns" {}
`)

	env, err := LoadEnvironment(stack, cfg)
	require.NoError(t, err)

	lb := env.Modules[1]
	require.Len(t, lb.DependsOn, 1)
	assert.Empty(t, lb.DependsOn[0].Output)
}

func TestLoadEnvironments_ManifestOrder(t *testing.T) {
	dir := t.TempDir()
	stack := &Stack{
		Dir: dir,
		Environments: []EnvironmentConfig{
			{Name: "prod", Root: "prod", StatePrefix: "stacks/prod"},
			{Name: "dev", Root: "dev", StatePrefix: "stacks/dev"},
		},
	}
	writeUnit(t, filepath.Join(dir, "prod"), "vpc", ``)
	writeUnit(t, filepath.Join(dir, "dev"), "vpc", ``)

	envs, err := LoadEnvironments(stack)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "prod", envs[0].Name)
	assert.Equal(t, "dev", envs[1].Name)
}

func TestBuildOwnershipMap(t *testing.T) {
	stack, cfg := testStack(t)
	root := filepath.Join(stack.Dir, "dev")

	writeUnit(t, root, "vpc", `
source = "../../modules/vpc"
`)

	env, err := LoadEnvironment(stack, cfg)
	require.NoError(t, err)

	owners, err := BuildOwnershipMap(stack, []*module.Environment{env})
	require.NoError(t, err)

	// The module's live directory owns changes under it.
	refs := changes.Affected([]string{"dev/vpc/main.tf"}, owners)
	require.Len(t, refs, 1)
	assert.Equal(t, "vpc", refs[0].Module)

	// The shared source root owns changes too.
	refs = changes.Affected([]string{"modules/vpc/main.tf"}, owners)
	require.Len(t, refs, 1)
	assert.Equal(t, "vpc", refs[0].Module)
}
