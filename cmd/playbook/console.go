package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/runner"
)

// console is the terminal implementation of the Interactor port: confirmation
// gates, manual node verdicts, failure resolution and variable prompts.
type console struct {
	rl  *readline.Instance
	tty bool
}

func newConsole() *console {
	c := &console{tty: isatty.IsTerminal(os.Stdin.Fd())}

	rl, err := readline.New("> ")
	if err == nil {
		c.rl = rl
	}

	return c
}

func (c *console) Close() {
	if c.rl != nil {
		c.rl.Close()
	}
}

func (c *console) ask(prompt string) (string, error) {
	if c.rl == nil || !c.tty {
		return "", fmt.Errorf("no terminal available for prompt")
	}

	c.rl.SetPrompt(prompt)

	line, err := c.rl.Readline()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func (c *console) Confirm(ctx context.Context, node *models.Node, prompt string) (bool, error) {
	for {
		answer, err := c.ask(fmt.Sprintf("[%s] %s [y/n]: ", node.DisplayName(), prompt))
		if err != nil {
			return false, err
		}

		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

func (c *console) ManualResult(ctx context.Context, node *models.Node, description, prompt string) (bool, string, error) {
	fmt.Printf("\n=== %s ===\n", node.DisplayName())

	if description != "" {
		fmt.Println(description)
	}

	for {
		answer, err := c.ask(fmt.Sprintf("%s [ok/nok]: ", prompt))
		if err != nil {
			return false, "", err
		}

		var ok bool

		switch strings.ToLower(answer) {
		case "ok", "y", "yes":
			ok = true
		case "nok", "n", "no":
			ok = false
		default:
			continue
		}

		note, err := c.ask("note (optional): ")
		if err != nil {
			return ok, "", err
		}

		return ok, note, nil
	}
}

func (c *console) CommandOutput(node *models.Node, stdout, stderr string) {
	if stdout != "" {
		fmt.Printf("--- %s stdout ---\n%s", node.DisplayName(), ensureNewline(stdout))
	}

	if stderr != "" {
		fmt.Fprintf(os.Stderr, "--- %s stderr ---\n%s", node.DisplayName(), ensureNewline(stderr))
	}
}

func (c *console) FunctionOutput(node *models.Node, result string) {
	fmt.Printf("--- %s result ---\n%s", node.DisplayName(), ensureNewline(result))
}

func (c *console) ResolveFailure(ctx context.Context, req runner.FailureRequest) (models.Decision, error) {
	if req.Execution != nil {
		if req.Execution.Exception != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", req.Execution.Exception)
		}

		if req.Execution.Stderr != "" {
			fmt.Fprintf(os.Stderr, "stderr:\n%s", ensureNewline(req.Execution.Stderr))
		}
	}

	var choices []string

	if req.CanRetry {
		choices = append(choices, "Retry (r)")
	}

	if req.CanSkip {
		choices = append(choices, "Skip (s)")
	}

	choices = append(choices, "Abort (a)")

	prompt := fmt.Sprintf("Node %q failed (attempt %d/%d). %s? ",
		req.Node.ID, req.Attempt, req.MaxRetries+1, strings.Join(choices, ", "))

	for {
		answer, err := c.ask(prompt)
		if err != nil {
			return models.DecisionAbort, err
		}

		switch strings.ToLower(answer) {
		case "r", "retry":
			if req.CanRetry {
				return models.DecisionRetry, nil
			}
		case "s", "skip":
			if req.CanSkip {
				return models.DecisionSkip, nil
			}

			fmt.Println("cannot skip a critical node")
		case "a", "abort":
			return models.DecisionAbort, nil
		}
	}
}

func (c *console) PromptVariable(spec *models.VariableSpec) (string, error) {
	prompt := fmt.Sprintf("Enter value for %s", spec.Name)

	if spec.Description != "" {
		prompt += fmt.Sprintf(" (%s)", spec.Description)
	}

	if len(spec.Choices) > 0 {
		parts := make([]string, len(spec.Choices))
		for i, choice := range spec.Choices {
			parts[i] = fmt.Sprint(choice)
		}

		prompt += fmt.Sprintf(" [choices: %s]", strings.Join(parts, ", "))
	}

	return c.ask(prompt + ": ")
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}

	return s + "\n"
}
