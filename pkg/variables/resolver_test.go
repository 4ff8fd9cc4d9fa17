package variables

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
)

func specs(list ...*models.VariableSpec) map[string]*models.VariableSpec {
	out := make(map[string]*models.VariableSpec, len(list))
	for _, spec := range list {
		out[spec.Name] = spec
	}

	return out
}

func TestResolve_PrecedenceOrder(t *testing.T) {
	declared := specs(&models.VariableSpec{Name: "ENV", Type: models.TypeString, Default: "dev"})

	tests := []struct {
		name     string
		src      Sources
		expected string
	}{
		{
			name:     "defaults_only",
			src:      Sources{},
			expected: "dev",
		},
		{
			name:     "env_beats_default",
			src:      Sources{Env: map[string]any{"ENV": "test"}},
			expected: "test",
		},
		{
			name: "file_beats_env",
			src: Sources{
				Env:  map[string]any{"ENV": "test"},
				File: map[string]any{"ENV": "staging"},
			},
			expected: "staging",
		},
		{
			name: "override_beats_everything",
			src: Sources{
				Env:       map[string]any{"ENV": "test"},
				File:      map[string]any{"ENV": "staging"},
				Overrides: map[string]any{"ENV": "prod"},
			},
			expected: "prod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(declared, false, nil)

			vars, err := resolver.Resolve(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, vars["ENV"])
		})
	}
}

func TestResolve_MissingRequiredNonInteractive(t *testing.T) {
	declared := specs(&models.VariableSpec{Name: "TOKEN", Type: models.TypeString, Required: true})
	resolver := NewResolver(declared, false, nil)

	_, err := resolver.Resolve(Sources{})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeVarMissingRequired, errdefs.CodeOf(err))
}

func TestResolve_TypeCoercion(t *testing.T) {
	declared := specs(
		&models.VariableSpec{Name: "REPLICAS", Type: models.TypeInt},
		&models.VariableSpec{Name: "RATIO", Type: models.TypeFloat},
		&models.VariableSpec{Name: "DRY_RUN", Type: models.TypeBool},
	)

	resolver := NewResolver(declared, false, nil)

	vars, err := resolver.Resolve(Sources{Overrides: map[string]any{
		"REPLICAS": "4",
		"RATIO":    "0.5",
		"DRY_RUN":  "yes",
	}})
	require.NoError(t, err)

	assert.Equal(t, 4, vars["REPLICAS"])
	assert.Equal(t, 0.5, vars["RATIO"])
	assert.Equal(t, true, vars["DRY_RUN"])
}

func TestResolve_BadChoice(t *testing.T) {
	declared := specs(&models.VariableSpec{
		Name:    "ENV",
		Type:    models.TypeString,
		Choices: []any{"dev", "prod"},
	})

	resolver := NewResolver(declared, false, nil)

	_, err := resolver.Resolve(Sources{Overrides: map[string]any{"ENV": "qa"}})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeVarBadChoice, errdefs.CodeOf(err))

	_, err = resolver.Resolve(Sources{Overrides: map[string]any{"ENV": "prod"}})
	require.NoError(t, err)
}

func TestResolve_NumericRange(t *testing.T) {
	low, high := 1.0, 10.0
	declared := specs(&models.VariableSpec{
		Name: "REPLICAS",
		Type: models.TypeInt,
		Min:  &low,
		Max:  &high,
	})

	resolver := NewResolver(declared, false, nil)

	_, err := resolver.Resolve(Sources{Overrides: map[string]any{"REPLICAS": "0"}})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeVarOutOfRange, errdefs.CodeOf(err))

	_, err = resolver.Resolve(Sources{Overrides: map[string]any{"REPLICAS": "11"}})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeVarOutOfRange, errdefs.CodeOf(err))

	vars, err := resolver.Resolve(Sources{Overrides: map[string]any{"REPLICAS": "5"}})
	require.NoError(t, err)
	assert.Equal(t, 5, vars["REPLICAS"])
}

func TestResolve_PatternValidation(t *testing.T) {
	declared := specs(&models.VariableSpec{
		Name:    "REGION",
		Type:    models.TypeString,
		Pattern: `^[a-z]+-[a-z]+-\d$`,
	})

	resolver := NewResolver(declared, false, nil)

	_, err := resolver.Resolve(Sources{Overrides: map[string]any{"REGION": "bogus"}})
	require.Error(t, err)

	_, err = resolver.Resolve(Sources{Overrides: map[string]any{"REGION": "eu-west-1"}})
	require.NoError(t, err)
}

func TestResolve_UndeclaredVariablesPassThrough(t *testing.T) {
	resolver := NewResolver(nil, false, nil)

	vars, err := resolver.Resolve(Sources{Overrides: map[string]any{"EXTRA": "kept"}})
	require.NoError(t, err)
	assert.Equal(t, "kept", vars["EXTRA"])
}

func TestParseKVs(t *testing.T) {
	vars, err := ParseKVs([]string{
		"ENV=prod",
		"HOSTS=[\"a\",\"b\"]",
		"META={\"team\":\"ops\"}",
		"WITH_EQUALS=a=b",
	})
	require.NoError(t, err)

	assert.Equal(t, "prod", vars["ENV"])
	assert.Equal(t, []any{"a", "b"}, vars["HOSTS"])
	assert.Equal(t, map[string]any{"team": "ops"}, vars["META"])
	assert.Equal(t, "a=b", vars["WITH_EQUALS"])

	_, err = ParseKVs([]string{"NOVALUE"})
	require.Error(t, err)
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "vars.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("ENV = \"staging\"\nREPLICAS = 3\n"), 0o644))

	vars, err := LoadFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "staging", vars["ENV"])

	jsonPath := filepath.Join(dir, "vars.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"ENV":"prod"}`), 0o644))

	vars, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "prod", vars["ENV"])

	envPath := filepath.Join(dir, "vars.env")
	require.NoError(t, os.WriteFile(envPath, []byte("# comment\nENV=dev\nQUOTED=\"v\"\n"), 0o644))

	vars, err = LoadFile(envPath)
	require.NoError(t, err)
	assert.Equal(t, "dev", vars["ENV"])
	assert.Equal(t, "v", vars["QUOTED"])

	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	badPath := filepath.Join(dir, "vars.xml")
	require.NoError(t, os.WriteFile(badPath, []byte("<vars/>"), 0o644))

	_, err = LoadFile(badPath)
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PLAYBOOK_VAR_ENV", "prod")
	t.Setenv("PLAYBOOK_VAR_HOSTS", `["a","b"]`)
	t.Setenv("UNRELATED", "x")

	vars := FromEnv(DefaultEnvPrefix)

	assert.Equal(t, "prod", vars["ENV"])
	assert.Equal(t, []any{"a", "b"}, vars["HOSTS"])
	assert.NotContains(t, vars, "UNRELATED")
}
