package runner

import (
	"context"
	"log/slog"

	"github.com/playbook-run/playbook/pkg/models"
)

// ManualRunner presents a step to the operator and records their verdict.
type ManualRunner struct {
	interactor Interactor
	logger     *slog.Logger
}

func NewManualRunner(interactor Interactor, logger *slog.Logger) *ManualRunner {
	return &ManualRunner{interactor: interactor, logger: logger}
}

func (r *ManualRunner) Run(ctx context.Context, node *models.Node, rendered *Rendered) models.Outcome {
	if outcome, proceed := confirmGate(ctx, r.interactor, node, rendered.PromptBefore); !proceed {
		return outcome
	}

	r.logger.InfoContext(ctx, "Waiting for operator", "node", node.ID)

	type result struct {
		ok   bool
		note string
		err  error
	}

	results := make(chan result, 1)

	go func() {
		ok, note, err := r.interactor.ManualResult(ctx, node, rendered.Description, rendered.PromptAfter)
		results <- result{ok: ok, note: note, err: err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return models.OutcomeNOK("manual_timeout")
		}

		return models.OutcomeNOK("cancelled")
	case res := <-results:
		if res.err != nil {
			return models.OutcomeNOK(res.err.Error())
		}

		outcome := models.Outcome{ResultText: res.note}

		if res.ok {
			outcome.Status = models.NodeOK
			outcome.OperatorDecision = models.DecisionOK
		} else {
			outcome.Status = models.NodeNOK
			outcome.OperatorDecision = models.DecisionNOK
		}

		return outcome
	}
}
