package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/plugin"
)

// FunctionRunner invokes plugin functions through the registry.
type FunctionRunner struct {
	registry   *plugin.Registry
	interactor Interactor
	logger     *slog.Logger
}

func NewFunctionRunner(registry *plugin.Registry, interactor Interactor, logger *slog.Logger) *FunctionRunner {
	return &FunctionRunner{registry: registry, interactor: interactor, logger: logger}
}

func (r *FunctionRunner) Run(ctx context.Context, node *models.Node, rendered *Rendered) models.Outcome {
	if outcome, proceed := confirmGate(ctx, r.interactor, node, rendered.PromptBefore); !proceed {
		return outcome
	}

	r.logger.InfoContext(ctx, "Calling plugin function",
		"node", node.ID, "plugin", node.Plugin, "function", node.Function)

	type result struct {
		value any
		err   error
	}

	results := make(chan result, 1)

	// The watchdog lives here: the plugin cooperates with ctx on a
	// best-effort basis, the select below enforces the deadline regardless.
	go func() {
		value, err := r.registry.Call(ctx, node.Plugin, node.Function, rendered.Params, rendered.PluginConfig)
		results <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return cancelOutcome(ctx)
	case res := <-results:
		if res.err != nil {
			if ctx.Err() != nil {
				return cancelOutcome(ctx)
			}

			return models.OutcomeNOK(res.err.Error())
		}

		outcome := models.OutcomeOK()

		if res.value != nil {
			outcome.ResultText = fmt.Sprint(res.value)
			r.interactor.FunctionOutput(node, outcome.ResultText)
		}

		if rendered.PromptAfter != "" {
			approved, err := r.interactor.Confirm(ctx, node, rendered.PromptAfter)
			if err != nil || !approved {
				outcome.Status = models.NodeNOK
				outcome.OperatorDecision = models.DecisionRejected

				return outcome
			}

			outcome.OperatorDecision = models.DecisionApproved
		}

		return outcome
	}
}
