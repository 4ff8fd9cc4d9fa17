package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/plan"
	"github.com/playbook-run/playbook/pkg/runner"
	"github.com/playbook-run/playbook/pkg/template"
)

// dispatcher drives one run to completion. All node-state mutation happens on
// the dispatch goroutine; workers only execute runners and report back.
type dispatcher struct {
	engine   *Engine
	plan     *plan.Plan
	run      *models.Run
	state    *runState
	renderer *template.Renderer
	logger   *slog.Logger

	// terminated is set when the operator aborts or a critical node
	// exhausts its retries; it stops further dispatch.
	terminated models.RunStatus
}

// attemptResult is what a worker hands back to the loop.
type attemptResult struct {
	nodeID   string
	outcome  models.Outcome
	storeErr error
}

func (d *dispatcher) loop(ctx context.Context) error {
	for d.terminated == "" {
		if ctx.Err() != nil {
			d.terminated = models.RunAborted

			return nil
		}

		d.prune()

		ready := d.ready()
		if len(ready) == 0 {
			if d.state.countPending() > 0 {
				// Pending nodes remain but none can ever become ready;
				// prune() converges, so this means a bug in the planner.
				return fmt.Errorf("dispatch stalled with %d pending nodes", d.state.countPending())
			}

			return nil
		}

		// Gate on `when` before spending workers; a skip here may unlock or
		// prune downstream nodes, so restart the tick.
		gated, err := d.gateWhen(ctx, ready)
		if err != nil {
			return err
		}

		if gated {
			continue
		}

		if !d.engine.cfg.Parallel {
			ready = ready[:1]
		}

		results, err := d.runNodes(ctx, ready)
		if err != nil {
			return err
		}

		for _, res := range results {
			if res.storeErr != nil {
				return res.storeErr
			}

			if err := d.settle(ctx, res); err != nil {
				return err
			}

			if d.terminated != "" {
				break
			}
		}
	}

	return nil
}

// ready returns the pending nodes whose every incoming edge is satisfied, in
// plan order.
func (d *dispatcher) ready() []string {
	var ready []string

	for _, nodeID := range d.plan.Order {
		if d.state.get(nodeID) != statePending {
			continue
		}

		if d.edgesSatisfied(nodeID) {
			ready = append(ready, nodeID)
		}
	}

	return ready
}

func (d *dispatcher) edgesSatisfied(nodeID string) bool {
	for _, edge := range d.plan.Edges[nodeID] {
		if !edgeSatisfied(edge, d.state.get(edge.From)) {
			return false
		}
	}

	return true
}

func edgeSatisfied(edge plan.Edge, upstream nodeState) bool {
	switch edge.Qualifier {
	case plan.QualifierSuccess:
		return upstream == stateOK
	case plan.QualifierFailure:
		return upstream == stateNOK
	default:
		return upstream == stateOK || upstream == stateSkipped
	}
}

// edgeImpossible reports whether the upstream terminal state rules the edge
// out forever.
func edgeImpossible(edge plan.Edge, upstream nodeState) bool {
	if !upstream.terminal() {
		return false
	}

	return !edgeSatisfied(edge, upstream)
}

// prune marks pending nodes whose dependencies can no longer be met. A failed
// upstream without a :failure qualifier cuts off its whole subtree; pruned
// nodes count as "not run". Runs to fixpoint so pruning cascades.
func (d *dispatcher) prune() {
	for {
		changed := false

		for _, nodeID := range d.plan.Order {
			if d.state.get(nodeID) != statePending {
				continue
			}

			for _, edge := range d.plan.Edges[nodeID] {
				if edgeImpossible(edge, d.state.get(edge.From)) {
					d.logger.Debug("Node pruned", "node", nodeID, "blocked_on", edge.From)
					d.state.set(nodeID, statePruned)

					changed = true

					break
				}
			}
		}

		if !changed {
			return
		}
	}
}

// gateWhen evaluates the `when` condition of each ready node. Nodes whose
// condition is falsy become SKIPPED with a synthetic execution row. Returns
// true when any node was gated (the ready set must be recomputed).
func (d *dispatcher) gateWhen(ctx context.Context, ready []string) (bool, error) {
	gated := false

	for _, nodeID := range ready {
		node := d.plan.Node(nodeID)

		if node.Skip {
			d.logger.InfoContext(ctx, "Node skipped by configuration", "node", nodeID)

			if err := d.recordSkip(ctx, node, models.DecisionNone,
				"node skipped as configured in workflow definition"); err != nil {
				return false, err
			}

			gated = true

			continue
		}

		if node.When == "" {
			continue
		}

		shouldRun, err := d.renderer.EvalWhen(nodeID+".when", node.When)
		if err != nil {
			// A gating condition that cannot be evaluated is a node
			// failure, not a silent pass.
			if ferr := d.failAttempt(ctx, node, err); ferr != nil {
				return false, ferr
			}

			gated = true

			continue
		}

		if !shouldRun {
			d.logger.InfoContext(ctx, "Node skipped by condition", "node", nodeID, "when", node.When)

			if err := d.recordSkip(ctx, node, models.DecisionNone,
				fmt.Sprintf("node skipped due to condition: %s", node.When)); err != nil {
				return false, err
			}

			gated = true
		}
	}

	return gated, nil
}

// runNodes executes the selected nodes, each in a worker, and collects the
// results in input order.
func (d *dispatcher) runNodes(ctx context.Context, nodeIDs []string) ([]attemptResult, error) {
	results := make([]attemptResult, len(nodeIDs))

	var group errgroup.Group

	if d.engine.cfg.WorkerLimit > 0 {
		group.SetLimit(d.engine.cfg.WorkerLimit)
	}

	var mu sync.Mutex

	for i, nodeID := range nodeIDs {
		d.state.set(nodeID, stateRunning)

		group.Go(func() error {
			res := d.attempt(ctx, d.plan.Node(nodeID))

			mu.Lock()
			results[i] = res
			mu.Unlock()

			return nil
		})
	}

	_ = group.Wait()

	return results, nil
}

// attempt records and executes one node attempt: begin the row, run the
// runner, finish the row. Store failures short-circuit.
func (d *dispatcher) attempt(ctx context.Context, node *models.Node) attemptResult {
	start := d.engine.clock()

	// Store writes survive cancellation: a cancelled node still gets its
	// terminal row before the run transitions.
	storeCtx := context.WithoutCancel(ctx)

	attempt, err := d.engine.store.BeginAttempt(storeCtx, d.run.WorkflowName, d.run.RunID, node.ID, start)
	if err != nil {
		return attemptResult{nodeID: node.ID, storeErr: err}
	}

	outcome := d.execute(ctx, node)

	end := d.engine.clock()

	execution := &models.NodeExecution{
		WorkflowName:     d.run.WorkflowName,
		RunID:            d.run.RunID,
		NodeID:           node.ID,
		Attempt:          attempt,
		StartTime:        start,
		EndTime:          &end,
		Status:           outcome.Status,
		OperatorDecision: outcome.OperatorDecision,
		ResultText:       outcome.ResultText,
		ExitCode:         outcome.ExitCode,
		Exception:        outcome.Exception,
		Stdout:           outcome.Stdout,
		Stderr:           outcome.Stderr,
		DurationMS:       end.Sub(start).Milliseconds(),
	}

	if err := d.engine.store.FinishAttempt(storeCtx, execution); err != nil {
		return attemptResult{nodeID: node.ID, storeErr: err}
	}

	return attemptResult{nodeID: node.ID, outcome: outcome}
}

// execute renders the node's templated fields and hands it to its runner. The
// node timeout and the run-level cancellation share one context.
func (d *dispatcher) execute(ctx context.Context, node *models.Node) models.Outcome {
	rendered, err := d.render(node)
	if err != nil {
		return models.OutcomeNOK(err.Error())
	}

	nodeCtx, cancel := context.WithTimeout(ctx, d.engine.cfg.timeoutFor(node))
	defer cancel()

	r, ok := d.engine.runners[node.Kind]
	if !ok {
		return models.OutcomeNOK(fmt.Sprintf("no runner registered for kind %s", node.Kind))
	}

	return r.Run(nodeCtx, node, rendered)
}

func (d *dispatcher) render(node *models.Node) (*runner.Rendered, error) {
	rendered := &runner.Rendered{}

	var err error

	if rendered.Description, err = d.renderer.Render(node.ID+".description", node.Description); err != nil {
		return nil, err
	}

	if rendered.PromptBefore, err = d.renderer.Render(node.ID+".prompt_before", node.PromptBefore); err != nil {
		return nil, err
	}

	if rendered.PromptAfter, err = d.renderer.Render(node.ID+".prompt_after", node.PromptAfter); err != nil {
		return nil, err
	}

	if rendered.Command, err = d.renderer.Render(node.ID+".command_name", node.Command); err != nil {
		return nil, err
	}

	if node.Params != nil {
		if rendered.Params, err = d.renderer.RenderMap(node.ID+".function_params", node.Params); err != nil {
			return nil, err
		}
	}

	rendered.PluginConfig = d.mergePluginConfig(node)

	return rendered, nil
}

// mergePluginConfig overlays the node's plugin_config on the runbook-level
// defaults for its plugin.
func (d *dispatcher) mergePluginConfig(node *models.Node) map[string]any {
	if node.Kind != models.KindFunction {
		return nil
	}

	merged := make(map[string]any)

	for key, value := range d.plan.Runbook.PluginConfig[node.Plugin] {
		merged[key] = value
	}

	for key, value := range node.PluginConfig {
		merged[key] = value
	}

	return merged
}

// settle applies one attempt result to the run: success advances, failure
// enters the resolution loop.
func (d *dispatcher) settle(ctx context.Context, res attemptResult) error {
	node := d.plan.Node(res.nodeID)

	switch res.outcome.Status {
	case models.NodeOK:
		d.logger.InfoContext(ctx, "Node completed", "node", res.nodeID)
		d.state.set(res.nodeID, stateOK)

		return nil
	case models.NodeNOK:
		if ctx.Err() != nil {
			// Cancelled mid-run: the attempt row is already closed, the
			// run transitions to ABORTED without consulting the operator.
			d.state.set(res.nodeID, stateNOK)
			d.terminated = models.RunAborted

			return nil
		}

		if !node.Critical && d.hasFailureDependents(res.nodeID) {
			// The failure feeds a declared :failure branch; it is an
			// expected terminal state, not something to resolve.
			d.logger.InfoContext(ctx, "Node failed into a failure branch", "node", res.nodeID)
			d.state.set(res.nodeID, stateNOK)

			return nil
		}

		return d.resolveFailure(ctx, node, res.outcome)
	default:
		return fmt.Errorf("runner for node %s returned non-terminal status %q", res.nodeID, res.outcome.Status)
	}
}

// hasFailureDependents reports whether any downstream edge consumes this
// node's failure.
func (d *dispatcher) hasFailureDependents(nodeID string) bool {
	for _, edges := range d.plan.Edges {
		for _, edge := range edges {
			if edge.From == nodeID && edge.Qualifier == plan.QualifierFailure {
				return true
			}
		}
	}

	return false
}

// recordSkip writes the synthetic SKIPPED row that stands in for an attempt.
func (d *dispatcher) recordSkip(ctx context.Context, node *models.Node, decision models.Decision, reason string) error {
	now := d.engine.clock()

	execution := &models.NodeExecution{
		WorkflowName:     d.run.WorkflowName,
		RunID:            d.run.RunID,
		NodeID:           node.ID,
		StartTime:        now,
		EndTime:          &now,
		Status:           models.NodeSkipped,
		OperatorDecision: decision,
		ResultText:       reason,
	}

	if err := d.engine.store.RecordExecution(context.WithoutCancel(ctx), execution); err != nil {
		return err
	}

	d.state.set(node.ID, stateSkipped)

	return nil
}

// failAttempt records a full NOK attempt for errors that happen before the
// runner starts (template failures, when-condition errors) and routes it
// through the normal failure resolution.
func (d *dispatcher) failAttempt(ctx context.Context, node *models.Node, cause error) error {
	start := d.engine.clock()

	storeCtx := context.WithoutCancel(ctx)

	attempt, err := d.engine.store.BeginAttempt(storeCtx, d.run.WorkflowName, d.run.RunID, node.ID, start)
	if err != nil {
		return err
	}

	end := d.engine.clock()

	execution := &models.NodeExecution{
		WorkflowName:     d.run.WorkflowName,
		RunID:            d.run.RunID,
		NodeID:           node.ID,
		Attempt:          attempt,
		StartTime:        start,
		EndTime:          &end,
		Status:           models.NodeNOK,
		OperatorDecision: models.DecisionNone,
		Exception:        cause.Error(),
	}

	if err := d.engine.store.FinishAttempt(storeCtx, execution); err != nil {
		return err
	}

	return d.resolveFailure(ctx, node, models.OutcomeNOK(cause.Error()))
}
