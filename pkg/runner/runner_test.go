package runner

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/plugin"
	"github.com/playbook-run/playbook/pkg/plugin/core"
)

// scriptedInteractor answers prompts from canned values.
type scriptedInteractor struct {
	confirmAnswers []bool
	manualOK       bool
	manualNote     string
	manualBlocks   bool

	stdout string
	stderr string
}

func (s *scriptedInteractor) Confirm(ctx context.Context, node *models.Node, prompt string) (bool, error) {
	if len(s.confirmAnswers) == 0 {
		return true, nil
	}

	answer := s.confirmAnswers[0]
	s.confirmAnswers = s.confirmAnswers[1:]

	return answer, nil
}

func (s *scriptedInteractor) ManualResult(ctx context.Context, node *models.Node, description, prompt string) (bool, string, error) {
	if s.manualBlocks {
		<-ctx.Done()

		return false, "", ctx.Err()
	}

	return s.manualOK, s.manualNote, nil
}

func (s *scriptedInteractor) CommandOutput(node *models.Node, stdout, stderr string) {
	s.stdout, s.stderr = stdout, stderr
}

func (s *scriptedInteractor) FunctionOutput(node *models.Node, result string) {}

func (s *scriptedInteractor) ResolveFailure(ctx context.Context, req FailureRequest) (models.Decision, error) {
	return models.DecisionAbort, nil
}

func (s *scriptedInteractor) PromptVariable(spec *models.VariableSpec) (string, error) {
	return "", nil
}

// fakeProcessRunner returns canned process results.
type fakeProcessRunner struct {
	exitCode int
	stdout   string
	stderr   string
	err      error
	delay    time.Duration

	gotCommand string
}

func (f *fakeProcessRunner) RunCommand(ctx context.Context, command string, interactive bool) (int, string, string, error) {
	f.gotCommand = command

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return -1, "", "", ctx.Err()
		}
	}

	return f.exitCode, f.stdout, f.stderr, f.err
}

func commandNode(id string) *models.Node {
	return &models.Node{ID: id, Kind: models.KindCommand, Command: "true"}
}

func TestCommandRunner_Success(t *testing.T) {
	interactor := &scriptedInteractor{}
	process := &fakeProcessRunner{exitCode: 0, stdout: "done\n"}
	r := NewCommandRunner(process, interactor, slog.Default())

	outcome := r.Run(context.Background(), commandNode("build"), &Rendered{Command: "make build"})

	assert.Equal(t, models.NodeOK, outcome.Status)
	require.NotNil(t, outcome.ExitCode)
	assert.Equal(t, 0, *outcome.ExitCode)
	assert.Equal(t, "done\n", outcome.Stdout)
	assert.Equal(t, "make build", process.gotCommand)
	assert.Equal(t, "done\n", interactor.stdout)
}

func TestCommandRunner_NonZeroExit(t *testing.T) {
	process := &fakeProcessRunner{exitCode: 3, stderr: "broken\n"}
	r := NewCommandRunner(process, &scriptedInteractor{}, slog.Default())

	outcome := r.Run(context.Background(), commandNode("build"), &Rendered{Command: "make build"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	require.NotNil(t, outcome.ExitCode)
	assert.Equal(t, 3, *outcome.ExitCode)
	assert.Equal(t, "broken\n", outcome.Stderr)
}

func TestCommandRunner_Timeout(t *testing.T) {
	process := &fakeProcessRunner{delay: time.Second}
	r := NewCommandRunner(process, &scriptedInteractor{}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome := r.Run(ctx, commandNode("slow"), &Rendered{Command: "sleep 60"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, "timeout", outcome.Exception)
}

func TestCommandRunner_Cancelled(t *testing.T) {
	process := &fakeProcessRunner{delay: time.Second}
	r := NewCommandRunner(process, &scriptedInteractor{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome := r.Run(ctx, commandNode("slow"), &Rendered{Command: "sleep 60"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, "cancelled", outcome.Exception)
}

func TestCommandRunner_ProcessError(t *testing.T) {
	process := &fakeProcessRunner{err: errors.New("sh not found")}
	r := NewCommandRunner(process, &scriptedInteractor{}, slog.Default())

	outcome := r.Run(context.Background(), commandNode("build"), &Rendered{Command: "make"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, "sh not found", outcome.Exception)
}

func TestCommandRunner_PromptGates(t *testing.T) {
	// prompt_before rejected: the command never runs.
	interactor := &scriptedInteractor{confirmAnswers: []bool{false}}
	process := &fakeProcessRunner{}
	r := NewCommandRunner(process, interactor, slog.Default())

	outcome := r.Run(context.Background(), commandNode("build"),
		&Rendered{Command: "make", PromptBefore: "Really?"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, models.DecisionRejected, outcome.OperatorDecision)
	assert.Empty(t, process.gotCommand)

	// prompt_after rejected after a successful command.
	interactor = &scriptedInteractor{confirmAnswers: []bool{false}}
	r = NewCommandRunner(&fakeProcessRunner{exitCode: 0}, interactor, slog.Default())

	outcome = r.Run(context.Background(), commandNode("build"),
		&Rendered{Command: "make", PromptAfter: "Looks good?"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, models.DecisionRejected, outcome.OperatorDecision)

	// prompt_after approved.
	interactor = &scriptedInteractor{confirmAnswers: []bool{true}}
	r = NewCommandRunner(&fakeProcessRunner{exitCode: 0}, interactor, slog.Default())

	outcome = r.Run(context.Background(), commandNode("build"),
		&Rendered{Command: "make", PromptAfter: "Looks good?"})

	assert.Equal(t, models.NodeOK, outcome.Status)
	assert.Equal(t, models.DecisionApproved, outcome.OperatorDecision)
}

func TestManualRunner_Verdicts(t *testing.T) {
	node := &models.Node{ID: "check", Kind: models.KindManual}

	r := NewManualRunner(&scriptedInteractor{manualOK: true, manualNote: "all green"}, slog.Default())
	outcome := r.Run(context.Background(), node, &Rendered{PromptAfter: "Continue?"})

	assert.Equal(t, models.NodeOK, outcome.Status)
	assert.Equal(t, models.DecisionOK, outcome.OperatorDecision)
	assert.Equal(t, "all green", outcome.ResultText)

	r = NewManualRunner(&scriptedInteractor{manualOK: false, manualNote: "dashboard red"}, slog.Default())
	outcome = r.Run(context.Background(), node, &Rendered{PromptAfter: "Continue?"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, models.DecisionNOK, outcome.OperatorDecision)
	assert.Equal(t, "dashboard red", outcome.ResultText)
}

func TestManualRunner_Timeout(t *testing.T) {
	node := &models.Node{ID: "check", Kind: models.KindManual}
	r := NewManualRunner(&scriptedInteractor{manualBlocks: true}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome := r.Run(ctx, node, &Rendered{PromptAfter: "Continue?"})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, "manual_timeout", outcome.Exception)
	assert.Equal(t, models.DecisionNone, outcome.OperatorDecision)
}

func functionRunner(t *testing.T) *FunctionRunner {
	t.Helper()

	registry := plugin.NewRegistry(slog.Default())
	registry.Register(core.New())

	return NewFunctionRunner(registry, &scriptedInteractor{}, slog.Default())
}

func TestFunctionRunner_Success(t *testing.T) {
	node := &models.Node{
		ID:       "notify",
		Kind:     models.KindFunction,
		Plugin:   "core",
		Function: "echo",
	}

	outcome := functionRunner(t).Run(context.Background(), node,
		&Rendered{Params: map[string]any{"message": "deployed"}})

	assert.Equal(t, models.NodeOK, outcome.Status)
	assert.Equal(t, "deployed", outcome.ResultText)
}

func TestFunctionRunner_PluginFailure(t *testing.T) {
	node := &models.Node{
		ID:       "explode",
		Kind:     models.KindFunction,
		Plugin:   "core",
		Function: "fail",
	}

	outcome := functionRunner(t).Run(context.Background(), node,
		&Rendered{Params: map[string]any{"message": "expected failure"}})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Contains(t, outcome.Exception, "expected failure")
}

func TestFunctionRunner_SchemaMismatch(t *testing.T) {
	node := &models.Node{
		ID:       "notify",
		Kind:     models.KindFunction,
		Plugin:   "core",
		Function: "echo",
	}

	// echo requires message.
	outcome := functionRunner(t).Run(context.Background(), node, &Rendered{Params: map[string]any{}})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Contains(t, outcome.Exception, "message")
}

func TestFunctionRunner_UnknownPlugin(t *testing.T) {
	node := &models.Node{
		ID:       "notify",
		Kind:     models.KindFunction,
		Plugin:   "ghost",
		Function: "echo",
	}

	outcome := functionRunner(t).Run(context.Background(), node, &Rendered{})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Contains(t, outcome.Exception, "ghost")
}

func TestFunctionRunner_Timeout(t *testing.T) {
	node := &models.Node{
		ID:       "nap",
		Kind:     models.KindFunction,
		Plugin:   "core",
		Function: "sleep",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome := functionRunner(t).Run(ctx, node,
		&Rendered{Params: map[string]any{"seconds": 30}})

	assert.Equal(t, models.NodeNOK, outcome.Status)
	assert.Equal(t, "timeout", outcome.Exception)
}

func TestShellProcessRunner_CapturesOutput(t *testing.T) {
	r := NewShellProcessRunner()

	exitCode, stdout, stderr, err := r.RunCommand(context.Background(), "echo hello; echo oops >&2", false)
	require.NoError(t, err)

	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "hello\n", stdout)
	assert.Equal(t, "oops\n", stderr)
}

func TestShellProcessRunner_ExitCode(t *testing.T) {
	r := NewShellProcessRunner()

	exitCode, _, _, err := r.RunCommand(context.Background(), "exit 7", false)
	require.NoError(t, err)
	assert.Equal(t, 7, exitCode)
}

func TestShellProcessRunner_Timeout(t *testing.T) {
	r := NewShellProcessRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, _, err := r.RunCommand(ctx, "sleep 30", false)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
