package engine

import (
	"context"
	"encoding/json"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/plan"
)

// Resume continues an aborted run: it rebuilds the variable snapshot with the
// caller's overrides on top, re-plans from the current runbook file, seeds
// node states from the latest attempts and re-enters the dispatch loop. New
// attempts append; attempt numbers are never reused.
func (e *Engine) Resume(ctx context.Context, rb *models.Runbook, runID int64, overrides map[string]any) (*Result, error) {
	var (
		run *models.Run
		err error
	)

	if runID > 0 {
		run, err = e.store.GetRun(ctx, rb.Title, runID)
	} else {
		run, err = e.store.LatestRun(ctx, rb.Title)
	}

	if err != nil {
		return nil, err
	}

	if err := resumable(run); err != nil {
		return nil, err
	}

	vars := make(map[string]any)
	if run.VariablesJSON != "" {
		if err := json.Unmarshal([]byte(run.VariablesJSON), &vars); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeStore, err, "corrupt variables snapshot on run %d", run.RunID)
		}
	}

	if vars == nil {
		vars = make(map[string]any)
	}

	for name, value := range overrides {
		vars[name] = value
	}

	pl, err := plan.Build(rb)
	if err != nil {
		return nil, err
	}

	if run.RunbookDigest != "" && rb.Digest != "" && run.RunbookDigest != rb.Digest {
		e.logger.WarnContext(ctx, "Runbook changed since the original run, proceeding with the current file",
			"workflow", rb.Title, "run_id", run.RunID, "code", string(errdefs.CodeRunbookChanged))
	}

	state := newRunState(pl.Order)

	if err := e.seedFromHistory(ctx, run, state); err != nil {
		return nil, err
	}

	if err := e.store.MarkResumed(ctx, rb.Title, run.RunID, e.executorID); err != nil {
		return nil, err
	}

	run.Status = models.RunRunning
	run.Trigger = models.TriggerResume
	run.EndTime = nil

	e.logger.InfoContext(ctx, "Run resumed", "workflow", rb.Title, "run_id", run.RunID)

	return e.drive(ctx, pl, run, vars, state)
}

// resumable enforces the status gate with the explicit error codes the CLI
// maps to messages.
func resumable(run *models.Run) error {
	switch run.Status {
	case models.RunAborted:
		return nil
	case models.RunOK:
		return errdefs.New(errdefs.CodeNotResumableOK,
			"run %d completed successfully and cannot be resumed", run.RunID)
	case models.RunNOK:
		return errdefs.New(errdefs.CodeNotResumableNOK,
			"run %d failed and cannot be resumed", run.RunID)
	default:
		return errdefs.New(errdefs.CodeNotResumableRunning,
			"run %d is still marked running", run.RunID).
			WithSuggestion("if the executor is gone, repair it first: playbook set-status <workflow> <run-id> aborted")
	}
}

// seedFromHistory restores terminal node states from the latest attempt per
// node; NOK and PENDING attempts leave the node runnable again.
func (e *Engine) seedFromHistory(ctx context.Context, run *models.Run, state *runState) error {
	executions, err := e.store.Executions(ctx, run.WorkflowName, run.RunID)
	if err != nil {
		return err
	}

	latest := make(map[string]*models.NodeExecution)

	for _, execution := range executions {
		current, ok := latest[execution.NodeID]
		if !ok || execution.Attempt > current.Attempt {
			latest[execution.NodeID] = execution
		}
	}

	for nodeID, execution := range latest {
		if _, known := state.states[nodeID]; !known {
			// The runbook no longer declares this node; ignore its history.
			continue
		}

		switch execution.Status {
		case models.NodeOK:
			state.set(nodeID, stateOK)
		case models.NodeSkipped:
			state.set(nodeID, stateSkipped)
		default:
			// NOK and orphaned PENDING rows become runnable again.
			state.set(nodeID, statePending)
		}
	}

	return nil
}
