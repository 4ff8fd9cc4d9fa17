// Package engine orchestrates runbook execution: it owns the run-level state
// machine, dispatches ready nodes over the dependency graph, records every
// attempt in the store and drives the interactive retry/skip/abort loop.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/plan"
	"github.com/playbook-run/playbook/pkg/runner"
	"github.com/playbook-run/playbook/pkg/store"
	"github.com/playbook-run/playbook/pkg/template"
)

// DefaultTimeout applies to nodes that declare none.
const DefaultTimeout = 300 * time.Second

// Config is the engine configuration, threaded explicitly through the
// constructor; there is no global state.
type Config struct {
	// MaxRetries bounds operator retries per node beyond the first attempt.
	MaxRetries int

	// DefaultTimeout applies to nodes without a timeout of their own.
	DefaultTimeout time.Duration

	// Parallel starts every ready node concurrently instead of one per tick.
	Parallel bool

	// WorkerLimit bounds concurrent node workers when Parallel is set;
	// 0 means unbounded.
	WorkerLimit int

	// Interactive enables the operator prompts; without it failed nodes are
	// skipped (non-critical) or escalate (critical) immediately.
	Interactive bool
}

func (c Config) timeoutFor(node *models.Node) time.Duration {
	if node.Timeout > 0 {
		return time.Duration(node.Timeout) * time.Second
	}

	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}

	return DefaultTimeout
}

// Engine executes runbooks against the store through the runner ports.
type Engine struct {
	store      store.Store
	runners    map[models.NodeKind]runner.Runner
	interactor runner.Interactor
	cfg        Config
	logger     *slog.Logger
	clock      func() time.Time
	executorID string
}

func New(st store.Store, runners map[models.NodeKind]runner.Runner, interactor runner.Interactor, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:      st,
		runners:    runners,
		interactor: interactor,
		cfg:        cfg,
		logger:     logger,
		clock:      time.Now,
		executorID: uuid.New().String(),
	}
}

// Result is the terminal outcome of a run.
type Result struct {
	Run      *models.Run
	Status   models.RunStatus
	Counters models.Counters
}

// Execute starts a fresh run: plan, create the run row, dispatch until done.
// Plan errors and template syntax errors surface before any run row exists.
func (e *Engine) Execute(ctx context.Context, rb *models.Runbook, vars map[string]any) (*Result, error) {
	if err := Validate(rb); err != nil {
		return nil, err
	}

	pl, err := plan.Build(rb)
	if err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(vars)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeStore, err, "cannot serialize variables snapshot")
	}

	run := &models.Run{
		WorkflowName:  rb.Title,
		StartTime:     e.clock(),
		Status:        models.RunRunning,
		Trigger:       models.TriggerRun,
		VariablesJSON: string(snapshot),
		RunbookDigest: rb.Digest,
		ExecutorID:    e.executorID,
	}

	runID, err := e.store.CreateRun(ctx, run)
	if err != nil {
		return nil, err
	}

	run.RunID = runID

	e.logger.InfoContext(ctx, "Run started",
		"workflow", rb.Title, "run_id", runID, "nodes", len(rb.Nodes))

	state := newRunState(pl.Order)

	return e.drive(ctx, pl, run, vars, state)
}

// drive runs the dispatch loop and closes the run row.
func (e *Engine) drive(ctx context.Context, pl *plan.Plan, run *models.Run, vars map[string]any, state *runState) (*Result, error) {
	renderer := template.NewRenderer(vars, state)

	d := &dispatcher{
		engine:   e,
		plan:     pl,
		run:      run,
		state:    state,
		renderer: renderer,
		logger:   e.logger.With("workflow", run.WorkflowName, "run_id", run.RunID),
	}

	dispatchErr := d.loop(ctx)

	status := e.finalStatus(ctx, d)
	counters := state.counters()
	endTime := e.clock()

	if err := e.store.UpdateRunStatus(context.WithoutCancel(ctx), run.WorkflowName, run.RunID, status, counters, &endTime); err != nil {
		// The run row could not be closed; leave it RUNNING for manual
		// repair via set-status.
		e.logger.ErrorContext(ctx, "Failed to close run", "error", err)

		if dispatchErr == nil {
			dispatchErr = err
		}
	}

	run.Status = status
	run.Counters = counters
	run.EndTime = &endTime

	e.logger.InfoContext(ctx, "Run finished",
		"status", status, "ok", counters.OK, "nok", counters.NOK, "skipped", counters.Skipped)

	if dispatchErr != nil {
		return nil, dispatchErr
	}

	return &Result{Run: run, Status: status, Counters: counters}, nil
}

// finalStatus applies the run-level transition rules: an operator abort (or
// cancellation) wins, then critical failures escalate, otherwise the run is
// OK.
func (e *Engine) finalStatus(ctx context.Context, d *dispatcher) models.RunStatus {
	switch {
	case d.terminated == models.RunAborted || ctx.Err() != nil:
		return models.RunAborted
	case d.terminated == models.RunNOK:
		return models.RunNOK
	case d.state.anyCriticalNOK(d.plan.Runbook.Nodes):
		return models.RunNOK
	default:
		return models.RunOK
	}
}

// Validate builds the plan and checks template syntax without touching the
// store.
func Validate(rb *models.Runbook) error {
	if _, err := plan.Build(rb); err != nil {
		return err
	}

	for _, node := range rb.Nodes {
		for field, value := range map[string]string{
			"when":          node.When,
			"command_name":  node.Command,
			"description":   node.Description,
			"prompt_before": node.PromptBefore,
			"prompt_after":  node.PromptAfter,
		} {
			if err := template.CheckSyntax(node.ID+"."+field, value); err != nil {
				return err
			}
		}
	}

	return nil
}

// SetStatus overrides a run's status; the repair path for orphaned RUNNING
// rows.
func (e *Engine) SetStatus(ctx context.Context, workflowName string, runID int64, status models.RunStatus) error {
	switch status {
	case models.RunRunning, models.RunOK, models.RunNOK, models.RunAborted:
	default:
		return errdefs.New(errdefs.CodeStore, "invalid run status %q", status).
			WithSuggestion("valid statuses are running, ok, nok and aborted")
	}

	return e.store.SetRunStatus(ctx, workflowName, runID, status)
}
