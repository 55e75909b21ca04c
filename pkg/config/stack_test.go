package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultManifest)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadStack(t *testing.T) {
	path := writeManifest(t, `
version: 1
backend:
  type: s3
  config:
    bucket: my-states
    region: us-east-1
engine: opentofu
merge_policy: prefer-mock
environments:
  - name: dev
    root: envs/dev
  - name: prod
    root: envs/prod
    state_prefix: prod-states
`)

	stack, err := LoadStack(path)
	require.NoError(t, err)

	assert.Equal(t, 1, stack.Version)
	assert.Equal(t, "s3", stack.Backend.Type)
	assert.Equal(t, "my-states", stack.Backend.Config["bucket"])
	assert.Equal(t, "prefer-mock", stack.MergePolicy)
	assert.Equal(t, filepath.Dir(path), stack.Dir)

	require.Len(t, stack.Environments, 2)
	assert.Equal(t, "stacks/dev", stack.Environments[0].StatePrefix)
	assert.Equal(t, "prod-states", stack.Environments[1].StatePrefix)
}

func TestLoadStack_Defaults(t *testing.T) {
	path := writeManifest(t, `
version: 1
environments:
  - name: dev
`)

	stack, err := LoadStack(path)
	require.NoError(t, err)

	assert.Equal(t, "local", stack.Backend.Type)
	assert.Equal(t, "opentofu", stack.Engine)
	assert.Equal(t, "dev", stack.Environments[0].Root)
	assert.Equal(t, "stacks/dev", stack.Environments[0].StatePrefix)
}

func TestLoadStack_NoEnvironments(t *testing.T) {
	path := writeManifest(t, `version: 1`)
	_, err := LoadStack(path)
	assert.ErrorContains(t, err, "no environments")
}

func TestLoadStack_DuplicateEnvironment(t *testing.T) {
	path := writeManifest(t, `
version: 1
environments:
  - name: dev
  - name: dev
`)
	_, err := LoadStack(path)
	assert.ErrorContains(t, err, "declared twice")
}

func TestLoadStack_SharedStatePrefix(t *testing.T) {
	path := writeManifest(t, `
version: 1
environments:
  - name: dev
    state_prefix: stacks/shared
  - name: prod
    state_prefix: stacks/shared
`)
	_, err := LoadStack(path)
	assert.ErrorContains(t, err, "share state prefix")
}

func TestLoadStack_MalformedYAML(t *testing.T) {
	path := writeManifest(t, "version: [not closed")
	_, err := LoadStack(path)
	assert.Error(t, err)
}

func TestStack_Environment(t *testing.T) {
	stack := &Stack{Environments: []EnvironmentConfig{
		{Name: "dev"},
		{Name: "prod"},
	}}

	require.NotNil(t, stack.Environment("prod"))
	assert.Equal(t, "prod", stack.Environment("prod").Name)
	assert.Nil(t, stack.Environment("staging"))
}

func TestStack_StoreConfig(t *testing.T) {
	stack := &Stack{Backend: BackendConfig{Type: "gcs", Config: map[string]string{"bucket": "b"}}}
	cfg := stack.StoreConfig()
	assert.Equal(t, "gcs", cfg.Type)
	assert.Equal(t, "b", cfg.Config["bucket"])
}
