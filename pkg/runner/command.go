package runner

import (
	"context"
	"log/slog"

	"github.com/playbook-run/playbook/pkg/models"
)

// CommandRunner executes shell commands through the ProcessRunner port.
type CommandRunner struct {
	process    ProcessRunner
	interactor Interactor
	logger     *slog.Logger
}

func NewCommandRunner(process ProcessRunner, interactor Interactor, logger *slog.Logger) *CommandRunner {
	return &CommandRunner{process: process, interactor: interactor, logger: logger}
}

func (r *CommandRunner) Run(ctx context.Context, node *models.Node, rendered *Rendered) models.Outcome {
	if outcome, proceed := confirmGate(ctx, r.interactor, node, rendered.PromptBefore); !proceed {
		return outcome
	}

	r.logger.InfoContext(ctx, "Running command", "node", node.ID, "command", rendered.Command)

	exitCode, stdout, stderr, err := r.process.RunCommand(ctx, rendered.Command, node.Interactive)

	outcome := models.Outcome{
		Stdout: stdout,
		Stderr: stderr,
	}

	if err != nil {
		cancelled := cancelOutcome(ctx)

		if ctx.Err() != nil {
			outcome.Status = models.NodeNOK
			outcome.OperatorDecision = models.DecisionNone
			outcome.Exception = cancelled.Exception

			return outcome
		}

		outcome.Status = models.NodeNOK
		outcome.OperatorDecision = models.DecisionNone
		outcome.Exception = err.Error()

		return outcome
	}

	outcome.ExitCode = &exitCode
	outcome.OperatorDecision = models.DecisionNone

	if exitCode != 0 {
		outcome.Status = models.NodeNOK

		if !node.Interactive && stderr != "" {
			r.interactor.CommandOutput(node, stdout, stderr)
		}

		return outcome
	}

	outcome.Status = models.NodeOK

	// Interactive commands wrote straight to the terminal, nothing to echo.
	if !node.Interactive && (stdout != "" || stderr != "") {
		r.interactor.CommandOutput(node, stdout, stderr)
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
