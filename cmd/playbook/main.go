package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/playbook-run/playbook/pkg/log"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:                  "playbook",
		EnableShellCompletion: true,
		Usage:                 "Execute operational runbooks with durable state and resume",
		Version:               version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state-path",
				Usage:   "Path to the state database",
				Value:   defaultStatePath(),
				Sources: cli.EnvVars("PLAYBOOK_STATE_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("PLAYBOOK_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("PLAYBOOK_LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			runCommand(),
			resumeCommand(),
			validateCommand(),
			setStatusCommand(),
			infoCommand(),
			showCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".playbook/state.db"
	}

	return filepath.Join(home, ".playbook", "state.db")
}
