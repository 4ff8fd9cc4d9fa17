package engine

import (
	"context"

	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/runner"
)

// resolveFailure is the per-node failure state machine. It blocks dispatch
// until the node reaches a final state: OK after a retry, SKIPPED, or a
// run-level termination (abort, critical escalation).
func (d *dispatcher) resolveFailure(ctx context.Context, node *models.Node, lastOutcome models.Outcome) error {
	for {
		if ctx.Err() != nil {
			d.state.set(node.ID, stateNOK)
			d.terminated = models.RunAborted

			return nil
		}

		latest, err := d.engine.store.LatestAttempt(context.WithoutCancel(ctx), d.run.WorkflowName, d.run.RunID, node.ID)
		if err != nil {
			return err
		}

		attempt := 0
		if latest != nil {
			attempt = latest.Attempt
		}

		// The first try plus MaxRetries retries; skip is always open to
		// non-critical nodes.
		canRetry := attempt <= d.engine.cfg.MaxRetries
		canSkip := !node.Critical

		d.logger.WarnContext(ctx, "Node failed",
			"node", node.ID, "attempt", attempt, "exception", lastOutcome.Exception)

		if !d.engine.cfg.Interactive {
			if canSkip {
				d.logger.InfoContext(ctx, "Non-interactive mode, skipping failed node", "node", node.ID)

				return d.recordSkip(ctx, node, models.DecisionSkip, "node skipped after failure (non-interactive)")
			}

			d.escalateCritical(ctx, node)

			return nil
		}

		if !canRetry && node.Critical {
			d.escalateCritical(ctx, node)

			return nil
		}

		decision, err := d.engine.interactor.ResolveFailure(ctx, runner.FailureRequest{
			Node:       node,
			Execution:  latest,
			Attempt:    attempt,
			MaxRetries: d.engine.cfg.MaxRetries,
			CanRetry:   canRetry,
			CanSkip:    canSkip,
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			return err
		}

		switch decision {
		case models.DecisionRetry:
			if !canRetry {
				continue
			}

			d.logger.InfoContext(ctx, "Retrying node", "node", node.ID, "attempt", attempt+1)

			res := d.attempt(ctx, node)
			if res.storeErr != nil {
				return res.storeErr
			}

			if res.outcome.Status == models.NodeOK {
				d.state.set(node.ID, stateOK)

				return nil
			}

			lastOutcome = res.outcome

		case models.DecisionSkip:
			if !canSkip {
				// Critical nodes cannot be skipped; ask again.
				continue
			}

			d.logger.InfoContext(ctx, "Skipping node after failure", "node", node.ID)

			return d.recordSkip(ctx, node, models.DecisionSkip, "node skipped by operator after failure")

		case models.DecisionAbort:
			d.logger.InfoContext(ctx, "Run aborted by operator", "node", node.ID)

			return d.recordAbort(ctx, node)

		default:
			continue
		}
	}
}

// escalateCritical settles a critical node as NOK and stops the run.
func (d *dispatcher) escalateCritical(ctx context.Context, node *models.Node) {
	d.logger.ErrorContext(ctx, "Critical node failed, run is NOK", "node", node.ID)
	d.state.set(node.ID, stateNOK)
	d.terminated = models.RunNOK
}

// recordAbort writes the synthetic abort marker and terminates the run.
func (d *dispatcher) recordAbort(ctx context.Context, node *models.Node) error {
	now := d.engine.clock()

	execution := &models.NodeExecution{
		WorkflowName:     d.run.WorkflowName,
		RunID:            d.run.RunID,
		NodeID:           node.ID,
		StartTime:        now,
		EndTime:          &now,
		Status:           models.NodeNOK,
		OperatorDecision: models.DecisionAbort,
		ResultText:       "run aborted by operator",
	}

	if err := d.engine.store.RecordExecution(context.WithoutCancel(ctx), execution); err != nil {
		return err
	}

	d.state.set(node.ID, stateNOK)
	d.terminated = models.RunAborted

	return nil
}
