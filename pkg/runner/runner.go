// Package runner contains the node handlers. Each kind of node (Manual,
// Command, Function) has a runner behind the common Runner contract; runners
// capture every failure into the returned Outcome and never propagate errors
// to the dispatch loop.
package runner

import (
	"context"

	"github.com/playbook-run/playbook/pkg/models"
)

// Rendered carries a node's templated fields after rendering and typed
// coercion. Runners never see raw templates.
type Rendered struct {
	Description  string
	PromptBefore string
	PromptAfter  string

	// Command nodes.
	Command string

	// Function nodes.
	Params       map[string]any
	PluginConfig map[string]any
}

// Runner executes one node attempt. The context carries the node timeout and
// the run-level cancellation token; runners must stop cooperatively when it
// fires.
type Runner interface {
	Run(ctx context.Context, node *models.Node, rendered *Rendered) models.Outcome
}

// FailureRequest is handed to the Interactor when a node attempt fails.
type FailureRequest struct {
	Node      *models.Node
	Execution *models.NodeExecution
	Attempt   int
	MaxRetries int
	CanRetry  bool
	CanSkip   bool
}

// Interactor is the operator-facing port: confirmation gates, manual node
// results, output display and the retry/skip/abort decision. The CLI provides
// a console implementation; tests script it.
type Interactor interface {
	// Confirm asks a yes/no question before or after a node runs.
	Confirm(ctx context.Context, node *models.Node, prompt string) (bool, error)

	// ManualResult presents a manual node and collects ok/nok plus an
	// optional free-text note.
	ManualResult(ctx context.Context, node *models.Node, description, prompt string) (ok bool, note string, err error)

	// CommandOutput and FunctionOutput surface captured node output.
	CommandOutput(node *models.Node, stdout, stderr string)
	FunctionOutput(node *models.Node, result string)

	// ResolveFailure returns retry, skip or abort for a failed node.
	ResolveFailure(ctx context.Context, req FailureRequest) (models.Decision, error)

	// PromptVariable asks for a missing required variable.
	PromptVariable(spec *models.VariableSpec) (string, error)
}

// confirmGate runs the prompt_before gate shared by all runners. The second
// return is false when the outcome is already decided.
func confirmGate(ctx context.Context, interactor Interactor, node *models.Node, prompt string) (models.Outcome, bool) {
	if prompt == "" {
		return models.Outcome{}, true
	}

	approved, err := interactor.Confirm(ctx, node, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return cancelOutcome(ctx), false
		}

		return models.OutcomeNOK(err.Error()), false
	}

	if !approved {
		return models.Outcome{
			Status:           models.NodeNOK,
			OperatorDecision: models.DecisionRejected,
			ResultText:       "rejected by operator",
		}, false
	}

	return models.Outcome{}, true
}

// cancelOutcome maps a fired context into the recorded exception string.
func cancelOutcome(ctx context.Context) models.Outcome {
	if ctx.Err() == context.DeadlineExceeded {
		return models.OutcomeNOK("timeout")
	}

	return models.OutcomeNOK("cancelled")
}
