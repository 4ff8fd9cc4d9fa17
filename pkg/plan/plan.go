// Package plan expands raw dependency expressions into a concrete edge set,
// validates the resulting graph and computes a deterministic execution order.
// The planner never looks at variables: `when` conditions are evaluated by the
// engine at dispatch time.
package plan

import (
	"sort"
	"strings"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
)

// Qualifier restricts which upstream terminal status satisfies an edge.
type Qualifier string

const (
	QualifierAny     Qualifier = ""
	QualifierSuccess Qualifier = "success"
	QualifierFailure Qualifier = "failure"
)

// Edge is one dependency of a node: the node waits for From to reach a
// terminal status matching Qualifier.
type Edge struct {
	From      string
	Qualifier Qualifier
}

// Plan is the validated, ordered view of a runbook.
type Plan struct {
	Runbook *Runbook

	// Order is a stable topological order with declaration-order tiebreak.
	Order []string

	// Edges maps node id to its incoming dependency edges.
	Edges map[string][]Edge

	// Layers groups Order into ranks of mutually independent nodes; nodes in
	// one layer may run in parallel.
	Layers [][]string
}

// Runbook is re-exported to keep call sites short.
type Runbook = models.Runbook

// Node returns the descriptor for id.
func (p *Plan) Node(id string) *models.Node { return p.Runbook.Node(id) }

// Build validates the runbook and produces a Plan.
func Build(rb *models.Runbook) (*Plan, error) {
	if err := validateNodeFields(rb); err != nil {
		return nil, err
	}

	edges, err := expandDependencies(rb)
	if err != nil {
		return nil, err
	}

	order, err := topoSort(rb, edges)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Runbook: rb,
		Order:   order,
		Edges:   edges,
		Layers:  layer(edges, order),
	}, nil
}

func validateNodeFields(rb *models.Runbook) error {
	for _, node := range rb.Nodes {
		if node.Critical && node.Skip {
			return errdefs.New(errdefs.CodePlanCriticalSkip,
				"node %q is critical and cannot request skip", node.ID)
		}

		switch node.Kind {
		case models.KindCommand:
			if node.Command == "" {
				return errdefs.New(errdefs.CodePlanMissingField,
					"command node %q is missing command_name", node.ID)
			}
		case models.KindFunction:
			if node.Plugin == "" {
				return errdefs.New(errdefs.CodePlanMissingField,
					"function node %q is missing plugin", node.ID)
			}

			if node.Function == "" {
				return errdefs.New(errdefs.CodePlanMissingField,
					"function node %q is missing function", node.ID)
			}
		case models.KindManual:
			if node.PromptAfter == "" {
				return errdefs.New(errdefs.CodePlanMissingField,
					"manual node %q is missing prompt_after", node.ID)
			}
		}
	}

	return nil
}

// expandDependencies materializes each node's dependency expression:
// omitted or "^" is the previous node in declaration order, "*" is every
// declared predecessor, and identifiers may carry :success / :failure
// qualifiers.
func expandDependencies(rb *models.Runbook) (map[string][]Edge, error) {
	ids := make(map[string]int, len(rb.Nodes))
	for i, node := range rb.Nodes {
		ids[node.ID] = i
	}

	edges := make(map[string][]Edge, len(rb.Nodes))

	for i, node := range rb.Nodes {
		var refs []string

		switch {
		case !node.DependsOn.Set:
			if i > 0 {
				refs = []string{rb.Nodes[i-1].ID}
			}
		case node.DependsOn.Many != nil:
			refs = node.DependsOn.Many
		case node.DependsOn.Single == "^":
			if i > 0 {
				refs = []string{rb.Nodes[i-1].ID}
			}
		case node.DependsOn.Single == "*":
			for _, prev := range rb.Nodes[:i] {
				refs = append(refs, prev.ID)
			}
		case node.DependsOn.Single == "":
			// Explicit empty string: no dependencies.
		default:
			refs = []string{node.DependsOn.Single}
		}

		nodeEdges := make([]Edge, 0, len(refs))

		for _, ref := range refs {
			edge, err := parseRef(ref)
			if err != nil {
				return nil, errdefs.Wrap(errdefs.CodePlanInvalidDepends, err,
					"node %q has an invalid dependency", node.ID)
			}

			if _, ok := ids[edge.From]; !ok {
				return nil, errdefs.New(errdefs.CodePlanUnknownNode,
					"node %q depends on non-existent node %q", node.ID, edge.From)
			}

			if edge.From == node.ID {
				return nil, errdefs.New(errdefs.CodePlanCycle,
					"node %q depends on itself", node.ID).
					WithContext("path", []string{node.ID, node.ID})
			}

			nodeEdges = append(nodeEdges, edge)
		}

		edges[node.ID] = nodeEdges
	}

	return edges, nil
}

func parseRef(ref string) (Edge, error) {
	id, qualifier, found := strings.Cut(ref, ":")
	if !found {
		return Edge{From: ref}, nil
	}

	switch Qualifier(qualifier) {
	case QualifierSuccess, QualifierFailure:
		return Edge{From: id, Qualifier: Qualifier(qualifier)}, nil
	default:
		return Edge{}, errdefs.New(errdefs.CodePlanInvalidDepends,
			"invalid condition %q on dependency %q, must be success or failure", qualifier, id)
	}
}

// topoSort is Kahn's algorithm with a declaration-order tiebreak; on a cycle
// it switches to a DFS walk to report the offending path.
func topoSort(rb *models.Runbook, edges map[string][]Edge) ([]string, error) {
	indegree := make(map[string]int, len(rb.Nodes))
	dependents := make(map[string][]string, len(rb.Nodes))

	for _, node := range rb.Nodes {
		indegree[node.ID] = len(edges[node.ID])
		for _, edge := range edges[node.ID] {
			dependents[edge.From] = append(dependents[edge.From], node.ID)
		}
	}

	declOrder := make(map[string]int, len(rb.Nodes))
	for i, node := range rb.Nodes {
		declOrder[node.ID] = i
	}

	var ready []string
	for _, node := range rb.Nodes {
		if indegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	order := make([]string, 0, len(rb.Nodes))

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return declOrder[ready[i]] < declOrder[ready[j]]
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(rb.Nodes) {
		path := cyclePath(rb, edges)

		return nil, errdefs.New(errdefs.CodePlanCycle,
			"runbook contains a dependency cycle: %s", strings.Join(path, " -> ")).
			WithContext("path", path)
	}

	return order, nil
}

// cyclePath finds one cycle with a three-color DFS and returns it closed on
// the repeated node.
func cyclePath(rb *models.Runbook, edges map[string][]Edge) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(rb.Nodes))

	var stack []string

	var visit func(id string) []string

	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)

		for _, edge := range edges[id] {
			switch color[edge.From] {
			case gray:
				// Close the loop at the first occurrence of edge.From.
				for i, s := range stack {
					if s == edge.From {
						path := append([]string{}, stack[i:]...)

						return append(path, edge.From)
					}
				}
			case white:
				if path := visit(edge.From); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black

		return nil
	}

	for _, node := range rb.Nodes {
		if color[node.ID] == white {
			if path := visit(node.ID); path != nil {
				return path
			}
		}
	}

	return nil
}

// layer groups the order into ranks: a node's rank is one past the maximum
// rank of its dependencies.
func layer(edges map[string][]Edge, order []string) [][]string {
	rank := make(map[string]int, len(order))

	for _, id := range order {
		r := 0
		for _, edge := range edges[id] {
			if dr := rank[edge.From] + 1; dr > r {
				r = dr
			}
		}

		rank[id] = r
	}

	maxRank := 0
	for _, r := range rank {
		if r > maxRank {
			maxRank = r
		}
	}

	layers := make([][]string, maxRank+1)
	for _, id := range order {
		layers[rank[id]] = append(layers[rank[id]], id)
	}

	return layers
}
