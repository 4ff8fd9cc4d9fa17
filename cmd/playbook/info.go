package main

import (
	"context"
	"fmt"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/playbook-run/playbook/pkg/models"
)

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "List recorded runs for a workflow",
		ArgsUsage: "<workflow>",
		Action: func(ctx context.Context, command *cli.Command) error {
			workflow := command.Args().First()
			if workflow == "" {
				return cli.Exit("a workflow name is required", exitPlanError)
			}

			st, err := openStore(ctx, command)
			if err != nil {
				return exitError(err)
			}
			defer st.Close()

			runs, err := st.ListRuns(ctx, workflow)
			if err != nil {
				return exitError(err)
			}

			if len(runs) == 0 {
				fmt.Printf("no runs recorded for %q\n", workflow)

				return nil
			}

			fmt.Printf("%-6s %-9s %-8s %-25s %-25s %s\n",
				"RUN", "STATUS", "TRIGGER", "STARTED", "ENDED", "OK/NOK/SKIP")

			for _, run := range runs {
				ended := "-"
				if run.EndTime != nil {
					ended = run.EndTime.Local().Format(time.RFC3339)
				}

				marker := ""
				if run.Status == models.RunRunning && run.EndTime == nil {
					marker = "  (possibly orphaned; repair with set-status)"
				}

				fmt.Printf("%-6d %-9s %-8s %-25s %-25s %d/%d/%d%s\n",
					run.RunID, run.Status, run.Trigger,
					run.StartTime.Local().Format(time.RFC3339), ended,
					run.Counters.OK, run.Counters.NOK, run.Counters.Skipped, marker)
			}

			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show the node attempts of one run",
		ArgsUsage: "<workflow> <run-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 2 {
				return cli.Exit("usage: playbook show <workflow> <run-id>", exitPlanError)
			}

			var runID int64
			if _, err := fmt.Sscanf(command.Args().Get(1), "%d", &runID); err != nil {
				return cli.Exit(fmt.Sprintf("invalid run id %q", command.Args().Get(1)), exitPlanError)
			}

			st, err := openStore(ctx, command)
			if err != nil {
				return exitError(err)
			}
			defer st.Close()

			run, err := st.GetRun(ctx, command.Args().First(), runID)
			if err != nil {
				return exitError(err)
			}

			fmt.Printf("run %d of %q: %s (trigger=%s, ok=%d nok=%d skipped=%d)\n",
				run.RunID, run.WorkflowName, run.Status, run.Trigger,
				run.Counters.OK, run.Counters.NOK, run.Counters.Skipped)

			executions, err := st.Executions(ctx, run.WorkflowName, run.RunID)
			if err != nil {
				return exitError(err)
			}

			fmt.Printf("%-20s %-8s %-8s %-9s %-10s %s\n",
				"NODE", "ATTEMPT", "STATUS", "DECISION", "DURATION", "DETAIL")

			for _, execution := range executions {
				detail := execution.ResultText
				if execution.Exception != "" {
					detail = execution.Exception
				}

				fmt.Printf("%-20s %-8d %-8s %-9s %-10s %s\n",
					execution.NodeID, execution.Attempt, execution.Status,
					execution.OperatorDecision,
					(time.Duration(execution.DurationMS) * time.Millisecond).String(),
					detail)
			}

			return nil
		},
	}
}
