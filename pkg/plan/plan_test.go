package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
)

func commandNode(id string, deps ...string) *models.Node {
	node := &models.Node{
		ID:      id,
		Kind:    models.KindCommand,
		Command: "true",
	}

	if deps != nil {
		node.DependsOn = models.DependencyExpr{Set: true, Many: deps}
	}

	return node
}

func runbookWith(nodes ...*models.Node) *models.Runbook {
	return &models.Runbook{
		Title: "test",
		Nodes: nodes,
	}
}

func TestBuild_ImplicitDependencies(t *testing.T) {
	rb := runbookWith(
		commandNode("a"),
		commandNode("b"),
		commandNode("c"),
	)

	p, err := Build(rb)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, p.Order)
	assert.Empty(t, p.Edges["a"])
	assert.Equal(t, []Edge{{From: "a"}}, p.Edges["b"])
	assert.Equal(t, []Edge{{From: "b"}}, p.Edges["c"])
}

func TestBuild_DependencyShorthands(t *testing.T) {
	tests := []struct {
		name     string
		expr     models.DependencyExpr
		expected []Edge
	}{
		{
			name:     "previous",
			expr:     models.DependencyExpr{Set: true, Single: "^"},
			expected: []Edge{{From: "b"}},
		},
		{
			name: "all_previous",
			expr: models.DependencyExpr{Set: true, Single: "*"},
			expected: []Edge{
				{From: "a"},
				{From: "b"},
			},
		},
		{
			name:     "single_id",
			expr:     models.DependencyExpr{Set: true, Single: "a"},
			expected: []Edge{{From: "a"}},
		},
		{
			name:     "explicit_empty",
			expr:     models.DependencyExpr{Set: true, Single: ""},
			expected: []Edge{},
		},
		{
			name: "qualified_list",
			expr: models.DependencyExpr{Set: true, Many: []string{"a:success", "b:failure"}},
			expected: []Edge{
				{From: "a", Qualifier: QualifierSuccess},
				{From: "b", Qualifier: QualifierFailure},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := commandNode("c")
			target.DependsOn = tt.expr

			rb := runbookWith(commandNode("a"), commandNode("b"), target)

			p, err := Build(rb)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.Edges["c"])
		})
	}
}

func TestBuild_UnknownNode(t *testing.T) {
	rb := runbookWith(
		commandNode("a"),
		commandNode("b", "ghost"),
	)

	_, err := Build(rb)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodePlanUnknownNode, errdefs.CodeOf(err))
}

func TestBuild_CycleDetection(t *testing.T) {
	rb := runbookWith(
		commandNode("a", "b"),
		commandNode("b", "a"),
	)

	_, err := Build(rb)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodePlanCycle, errdefs.CodeOf(err))

	var pe *errdefs.Error
	require.ErrorAs(t, err, &pe)

	path, ok := pe.Context["path"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(path), 3)
	assert.Equal(t, path[0], path[len(path)-1])
}

func TestBuild_SelfDependency(t *testing.T) {
	rb := runbookWith(commandNode("a", "a"))

	_, err := Build(rb)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodePlanCycle, errdefs.CodeOf(err))
}

func TestBuild_CriticalAndSkip(t *testing.T) {
	node := commandNode("a")
	node.Critical = true
	node.Skip = true

	_, err := Build(runbookWith(node))
	require.Error(t, err)
	assert.Equal(t, errdefs.CodePlanCriticalSkip, errdefs.CodeOf(err))
}

func TestBuild_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		node *models.Node
	}{
		{
			name: "command_without_command_name",
			node: &models.Node{ID: "a", Kind: models.KindCommand},
		},
		{
			name: "function_without_plugin",
			node: &models.Node{ID: "a", Kind: models.KindFunction, Function: "echo"},
		},
		{
			name: "function_without_function",
			node: &models.Node{ID: "a", Kind: models.KindFunction, Plugin: "core"},
		},
		{
			name: "manual_without_prompt",
			node: &models.Node{ID: "a", Kind: models.KindManual},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(runbookWith(tt.node))
			require.Error(t, err)
			assert.Equal(t, errdefs.CodePlanMissingField, errdefs.CodeOf(err))
		})
	}
}

func TestBuild_InvalidQualifier(t *testing.T) {
	rb := runbookWith(
		commandNode("a"),
		commandNode("b", "a:sometimes"),
	)

	_, err := Build(rb)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodePlanInvalidDepends, errdefs.CodeOf(err))
}

func TestBuild_TopologicalOrderIsStable(t *testing.T) {
	// Diamond: a -> {b, c} -> d; declaration order breaks the b/c tie.
	rb := runbookWith(
		commandNode("a"),
		commandNode("b", "a"),
		commandNode("c", "a"),
		commandNode("d", "b", "c"),
	)

	p, err := Build(rb)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, p.Order)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, p.Layers)
}

func TestBuild_DeclaredOrderBeatsDeclarationPosition(t *testing.T) {
	// "late" is declared first but depends on the last node.
	first := commandNode("first")
	first.DependsOn = models.DependencyExpr{Set: true, Single: ""}

	rb := runbookWith(
		commandNode("late", "last"),
		first,
		commandNode("last", "first"),
	)

	p, err := Build(rb)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "last", "late"}, p.Order)
}
