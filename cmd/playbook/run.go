package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/playbook-run/playbook/pkg/engine"
	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/log"
	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/parser"
	"github.com/playbook-run/playbook/pkg/plugin"
	"github.com/playbook-run/playbook/pkg/plugin/core"
	"github.com/playbook-run/playbook/pkg/runner"
	"github.com/playbook-run/playbook/pkg/store/sqlite"
	"github.com/playbook-run/playbook/pkg/variables"
)

// Exit codes are part of the observable contract.
const (
	exitOK        = 0
	exitNOK       = 1
	exitAborted   = 2
	exitPlanError = 3
	exitVarError  = 4
)

func executionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Maximum retry attempts per failed node",
			Value: 3,
		},
		&cli.StringSliceFlag{
			Name:  "var",
			Usage: "Set a variable in KEY=VALUE format (repeatable)",
		},
		&cli.StringFlag{
			Name:  "vars-file",
			Usage: "Load variables from a file (.toml, .json or .env)",
		},
		&cli.StringFlag{
			Name:  "vars-env",
			Usage: "Environment variable prefix for loading variables",
			Value: variables.DefaultEnvPrefix,
		},
		&cli.BoolFlag{
			Name:  "no-interactive",
			Usage: "Never prompt; failed non-critical nodes are skipped",
		},
		&cli.BoolFlag{
			Name:  "parallel",
			Usage: "Run independent nodes concurrently",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Bound concurrent node workers when --parallel is set (0 = unbounded)",
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a runbook from start to finish",
		ArgsUsage: "<file>",
		Flags:     executionFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			return executeWorkflow(ctx, command, 0, false)
		},
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume an aborted run",
		ArgsUsage: "<file> [run-id]",
		Flags:     executionFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			runID := int64(0)
			if command.Args().Len() > 1 {
				if _, err := fmt.Sscanf(command.Args().Get(1), "%d", &runID); err != nil {
					return cli.Exit(fmt.Sprintf("invalid run id %q", command.Args().Get(1)), exitPlanError)
				}
			}

			return executeWorkflow(ctx, command, runID, true)
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a runbook without executing it",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, command *cli.Command) error {
			rb, err := parser.Parse(command.Args().First())
			if err != nil {
				return exitError(err)
			}

			if err := engine.Validate(rb); err != nil {
				return exitError(err)
			}

			fmt.Printf("%s is valid: %d nodes\n", command.Args().First(), len(rb.Nodes))

			return nil
		},
	}
}

func setStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-status",
		Usage:     "Override a run's status (repairs orphaned runs)",
		ArgsUsage: "<workflow> <run-id> <status>",
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 3 {
				return cli.Exit("usage: playbook set-status <workflow> <run-id> <status>", exitPlanError)
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

			eng := engine.New(st, nil, nil, engine.Config{}, log.WithModule("engine"))

			status := models.RunStatus(command.Args().Get(2))
			if err := eng.SetStatus(ctx, command.Args().First(), runID, status); err != nil {
				return exitError(err)
			}

			fmt.Printf("run %s/%s set to %s\n", command.Args().First(), command.Args().Get(1), status)

			return nil
		},
	}
}

func executeWorkflow(ctx context.Context, command *cli.Command, runID int64, isResume bool) error {
	file := command.Args().First()
	if file == "" {
		return cli.Exit("a runbook file is required", exitPlanError)
	}

	rb, err := parser.Parse(file)
	if err != nil {
		return exitError(err)
	}

	interactive := !command.Bool("no-interactive")
	console := newConsole()
	defer console.Close()

	vars, err := collectVariables(command, rb, interactive, console)
	if err != nil {
		return exitError(err)
	}

	st, err := openStore(ctx, command)
	if err != nil {
		return exitError(err)
	}
	defer st.Close()

	registry := plugin.NewRegistry(log.WithModule("plugins"))
	registry.Register(core.New())

	runners := map[models.NodeKind]runner.Runner{
		models.KindManual:   runner.NewManualRunner(console, log.WithModule("manual")),
		models.KindCommand:  runner.NewCommandRunner(runner.NewShellProcessRunner(), console, log.WithModule("command")),
		models.KindFunction: runner.NewFunctionRunner(registry, console, log.WithModule("function")),
	}

	cfg := engine.Config{
		MaxRetries:  command.Int("max-retries"),
		Parallel:    command.Bool("parallel"),
		WorkerLimit: command.Int("workers"),
		Interactive: interactive,
	}

	eng := engine.New(st, runners, console, cfg, log.WithModule("engine"))

	var result *engine.Result

	if isResume {
		fmt.Printf("Resuming run: %s\n", rb.Title)

		result, err = eng.Resume(ctx, rb, runID, vars)
	} else {
		fmt.Printf("Starting run: %s\n", rb.Title)

		result, err = eng.Execute(ctx, rb, vars)
	}

	if err != nil {
		return exitError(err)
	}

	fmt.Printf("Run %d finished: %s (ok=%d nok=%d skipped=%d)\n",
		result.Run.RunID, result.Status,
		result.Counters.OK, result.Counters.NOK, result.Counters.Skipped)

	switch result.Status {
	case models.RunOK:
		return nil
	case models.RunNOK:
		return cli.Exit("", exitNOK)
	default:
		return cli.Exit("", exitAborted)
	}
}

func collectVariables(command *cli.Command, rb *models.Runbook, interactive bool, console *console) (map[string]any, error) {
	overrides, err := variables.ParseKVs(command.StringSlice("var"))
	if err != nil {
		return nil, err
	}

	fileVars := map[string]any{}
	if path := command.String("vars-file"); path != "" {
		if fileVars, err = variables.LoadFile(path); err != nil {
			return nil, err
		}
	}

	envVars := map[string]any{}
	if prefix := command.String("vars-env"); prefix != "" {
		envVars = variables.FromEnv(prefix)
	}

	resolver := variables.NewResolver(rb.Variables, interactive, console)

	return resolver.Resolve(variables.Sources{
		Overrides: overrides,
		File:      fileVars,
		Env:       envVars,
	})
}

func openStore(ctx context.Context, command *cli.Command) (*sqlite.Store, error) {
	return sqlite.Open(ctx, log.WithModule("store"), command.String("state-path"))
}

// exitError maps the error taxonomy onto the exit-code contract.
func exitError(err error) error {
	message := err.Error()

	var coded *errdefs.Error
	if e, ok := err.(*errdefs.Error); ok {
		coded = e
	}

	if coded != nil && coded.Suggestion != "" {
		message = fmt.Sprintf("%s\n  hint: %s", message, coded.Suggestion)
	}

	return cli.Exit(message, exitCodeFor(err))
}

func exitCodeFor(err error) int {
	switch errdefs.CodeOf(err) {
	case errdefs.CodeVarMissingRequired, errdefs.CodeVarBadChoice,
		errdefs.CodeVarCoercionFailed, errdefs.CodeVarOutOfRange:
		return exitVarError
	case "":
		return exitPlanError
	default:
		return exitPlanError
	}
}
