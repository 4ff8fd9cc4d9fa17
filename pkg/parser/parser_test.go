package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
)

const sampleRunbook = `
[runbook]
title = "deploy-service"
description = "Deploy the service to an environment"
version = "1.2.0"
author = "ops"
created_at = 2025-03-01T10:00:00Z

[runbook.plugin_config.core]
endpoint = "https://internal.example.com"

[variables.ENV]
default = "dev"
type = "string"
choices = ["dev", "staging", "prod"]
description = "Target environment"

[variables.REPLICAS]
type = "int"
default = 2
min = 1
max = 10

[preflight]
type = "Manual"
description = "Check the dashboard before deploying"
prompt_after = "Dashboard green?"

[build]
type = "Command"
command_name = "make build ENV={{ENV}}"
timeout = 120
critical = true

[deploy]
type = "Command"
command_name = "deploy.sh {{ENV}}"
depends_on = ["build:success"]

[rollback]
type = "Function"
plugin = "core"
function = "echo"
depends_on = ["build:failure"]

	[rollback.function_params]
	message = "rolling back {{ENV}}"
`

func writeRunbook(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "deploy.playbook.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestParse_FullRunbook(t *testing.T) {
	rb, err := Parse(writeRunbook(t, sampleRunbook))
	require.NoError(t, err)

	assert.Equal(t, "deploy-service", rb.Title)
	assert.Equal(t, "1.2.0", rb.Version)
	assert.Equal(t, "ops", rb.Author)
	assert.NotEmpty(t, rb.Digest)

	// Declaration order survives parsing.
	ids := make([]string, len(rb.Nodes))
	for i, node := range rb.Nodes {
		ids[i] = node.ID
	}

	assert.Equal(t, []string{"preflight", "build", "deploy", "rollback"}, ids)

	preflight := rb.Node("preflight")
	require.NotNil(t, preflight)
	assert.Equal(t, models.KindManual, preflight.Kind)
	assert.Equal(t, "Dashboard green?", preflight.PromptAfter)

	build := rb.Node("build")
	require.NotNil(t, build)
	assert.Equal(t, models.KindCommand, build.Kind)
	assert.True(t, build.Critical)
	assert.Equal(t, 120, build.Timeout)
	assert.False(t, build.DependsOn.Set)

	deploy := rb.Node("deploy")
	require.NotNil(t, deploy)
	assert.Equal(t, []string{"build:success"}, deploy.DependsOn.Many)

	rollback := rb.Node("rollback")
	require.NotNil(t, rollback)
	assert.Equal(t, models.KindFunction, rollback.Kind)
	assert.Equal(t, "core", rollback.Plugin)
	assert.Equal(t, "rolling back {{ENV}}", rollback.Params["message"])

	assert.Equal(t, "https://internal.example.com", rb.PluginConfig["core"]["endpoint"])
}

func TestParse_Variables(t *testing.T) {
	rb, err := Parse(writeRunbook(t, sampleRunbook))
	require.NoError(t, err)

	env := rb.Variables["ENV"]
	require.NotNil(t, env)
	assert.Equal(t, "ENV", env.Name)
	assert.Equal(t, models.TypeString, env.Type)
	assert.Equal(t, "dev", env.Default)
	assert.Len(t, env.Choices, 3)

	replicas := rb.Variables["REPLICAS"]
	require.NotNil(t, replicas)
	assert.Equal(t, models.TypeInt, replicas.Type)
	require.NotNil(t, replicas.Min)
	assert.Equal(t, 1.0, *replicas.Min)
	require.NotNil(t, replicas.Max)
	assert.Equal(t, 10.0, *replicas.Max)
}

func TestParse_ManualPromptDefault(t *testing.T) {
	rb, err := ParseBytes([]byte(`
[runbook]
title = "t"
description = "d"
version = "1"
author = "a"
created_at = 2025-01-01T00:00:00Z

[step]
type = "Manual"
`))
	require.NoError(t, err)
	assert.Equal(t, "Continue with the next step?", rb.Node("step").PromptAfter)
}

func TestParse_Errors(t *testing.T) {
	header := `
[runbook]
title = "t"
description = "d"
version = "1"
author = "a"
created_at = 2025-01-01T00:00:00Z
`

	tests := []struct {
		name    string
		content string
	}{
		{"missing_runbook_section", "[step]\ntype = \"Manual\"\n"},
		{"missing_metadata_field", "[runbook]\ntitle = \"t\"\n\n[step]\ntype = \"Manual\"\n"},
		{"missing_node_type", header + "[step]\ncritical = true\n"},
		{"unknown_node_type", header + "[step]\ntype = \"Robot\"\n"},
		{"no_nodes", header},
		{"bad_toml", "not toml at all ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.content))
			require.Error(t, err)
			assert.Equal(t, errdefs.CodeParse, errdefs.CodeOf(err))
		})
	}
}

func TestParse_RequiresSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRunbook), 0o644))

	_, err := Parse(path)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeParse, errdefs.CodeOf(err))
}

func TestDigest_StableAcrossReads(t *testing.T) {
	path := writeRunbook(t, sampleRunbook)

	first, err := Digest(path)
	require.NoError(t, err)

	second, err := Digest(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rb, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, first, rb.Digest)
}
