package action

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

func TestRegistryBuiltin(t *testing.T) {
	r := Builtin()
	assert.Equal(t, []string{"break", "exit", "fail", "input", "set", "shell"}, r.List())

	for _, name := range r.List() {
		a, err := r.Resolve(name)
		require.NoError(t, err)
		assert.NotNil(t, a)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := Builtin()

	_, err := r.Resolve("shelll")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionNotFound))
	assert.Contains(t, err.Error(), `did you mean "shell"`)

	_, err = r.Resolve("completely-unrelated-name")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestRegistryRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.Register("x", func() Action { return &SetAction{} })

	assert.Panics(t, func() { r.Register("x", func() Action { return &SetAction{} }) })
	assert.Panics(t, func() { r.Register("", func() Action { return &SetAction{} }) })
	assert.Panics(t, func() { r.Register("y", nil) })
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"shell", "shell", 0},
		{"shel", "shell", 1},
		{"shelll", "shell", 1},
		{"exit", "fail", 3},
		{"brake", "break", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, editDistance(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestExitAction(t *testing.T) {
	step := &workflow.Step{ID: "done", Uses: "exit", With: map[string]any{"message": "all good"}}
	res, err := (&ExitAction{}).Execute(context.Background(), step, state.New(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, true, res.Outputs[state.KeyWorkflowExit])
	assert.Equal(t, "all good", res.Outputs["message"])
}

func TestFailAction(t *testing.T) {
	step := &workflow.Step{ID: "bad", Uses: "fail", With: map[string]any{"message": "disk full"}}
	res, err := (&FailAction{}).Execute(context.Background(), step, state.New(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeFailure, res.Outcome)
	assert.Equal(t, "disk full", res.Error)
	assert.Equal(t, true, res.Outputs[state.KeyWorkflowFailed])
}

func TestFailActionDefaultMessage(t *testing.T) {
	step := &workflow.Step{ID: "bad", Uses: "fail"}
	res, err := (&FailAction{}).Execute(context.Background(), step, state.New(nil), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
}

func TestBreakAction(t *testing.T) {
	res, err := (&BreakAction{}).Execute(context.Background(), &workflow.Step{ID: "b"}, state.New(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, true, res.Outputs["__loop_break_requested"])
}

func TestSetAction(t *testing.T) {
	step := &workflow.Step{
		ID:   "vars",
		Uses: "set",
		With: map[string]any{"count": 3, "label": "ready"},
	}
	res, err := (&SetAction{}).Execute(context.Background(), step, state.New(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, res.Outputs["count"])
	assert.Equal(t, "ready", res.Outputs["label"])
}

func TestInputActionSuspends(t *testing.T) {
	step := &workflow.Step{
		ID:   "ask",
		Uses: "input",
		With: map[string]any{
			"prompt":  "Proceed?",
			"type":    "confirm",
			"default": "yes",
			"timeout": 30,
		},
	}
	res, err := (&InputAction{}).Execute(context.Background(), step, state.New(nil), &ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuspended, res.Outcome)
	require.NotNil(t, res.Suspension)
	assert.Equal(t, "ask", res.Suspension.StepID)
	assert.Equal(t, "Proceed?", res.Suspension.Prompt)
	assert.Equal(t, "confirm", res.Suspension.Type)
	assert.Equal(t, "yes", res.Suspension.Default)
	assert.Equal(t, 30.0, res.Suspension.Timeout)
}

func TestInputActionResume(t *testing.T) {
	step := &workflow.Step{ID: "ask", Uses: "input"}
	ec := &ExecContext{ResumeData: map[string]any{"value": "approved"}}
	res, err := (&InputAction{}).Execute(context.Background(), step, state.New(nil), ec)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "approved", res.Outputs["value"])
}

func TestInputActionInlinePrompt(t *testing.T) {
	step := &workflow.Step{ID: "ask", Uses: "input", With: map[string]any{"prompt": "Name?"}}
	ec := &ExecContext{
		Prompt: func(_ context.Context, s Suspension) (string, error) {
			assert.Equal(t, "Name?", s.Prompt)
			return "ada", nil
		},
	}
	res, err := (&InputAction{}).Execute(context.Background(), step, state.New(nil), ec)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "ada", res.Outputs["value"])
}

func TestShellActionSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	step := &workflow.Step{ID: "echo", Run: "echo hello && echo oops >&2"}
	res, err := (&ShellAction{}).Execute(context.Background(), step, state.New(nil), &ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 0, res.Outputs["exit_code"])
	assert.Equal(t, "hello\n", res.Outputs["stdout"])
	assert.Equal(t, "oops\n", res.Outputs["stderr"])
}

func TestShellActionNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	step := &workflow.Step{ID: "bad", Run: "exit 3"}
	res, err := (&ShellAction{}).Execute(context.Background(), step, state.New(nil), &ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeFailure, res.Outcome)
	assert.Equal(t, 3, res.Outputs["exit_code"])
	assert.Equal(t, ErrTypeSubprocess, res.ErrorType)
	assert.Contains(t, res.Error, "exited with code 3")
}

func TestShellActionEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	step := &workflow.Step{ID: "env", Run: "printf '%s' \"$GREETING\""}
	ec := &ExecContext{Env: map[string]string{"GREETING": "hi there"}}
	res, err := (&ShellAction{}).Execute(context.Background(), step, state.New(nil), ec)
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Outputs["stdout"])
}

func TestShellActionCaptureFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	dir := t.TempDir()
	step := &workflow.Step{ID: "big", Run: "echo payload", CaptureMode: "file"}
	ec := &ExecContext{ResultDir: dir}
	res, err := (&ShellAction{}).Execute(context.Background(), step, state.New(nil), ec)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "", res.Outputs["stdout"])

	path, ok := res.Outputs["stdout_file"].(string)
	require.True(t, ok)
	assert.Equal(t, dir, filepath.Dir(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", string(content))
}

func TestShellActionDelegatesToHost(t *testing.T) {
	var got CommandSpec
	ec := &ExecContext{
		WorkDir: "/work",
		Env:     map[string]string{"K": "v"},
		RunCommand: func(_ context.Context, spec CommandSpec) (CommandResult, error) {
			got = spec
			return CommandResult{Stdout: "sandboxed", ExitCode: 0}, nil
		},
	}
	step := &workflow.Step{ID: "host", Run: "ls"}
	res, err := (&ShellAction{}).Execute(context.Background(), step, state.New(nil), ec)
	require.NoError(t, err)
	assert.Equal(t, "ls", got.Command)
	assert.Equal(t, "/work", got.Dir)
	assert.Equal(t, "sandboxed", res.Outputs["stdout"])
}

func TestShellActionEmptyRun(t *testing.T) {
	res, err := (&ShellAction{}).Execute(context.Background(), &workflow.Step{ID: "noop"}, state.New(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeFailure, res.Outcome)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxCapturedOutput+10)
	out := truncate(long, maxCapturedOutput)
	assert.True(t, strings.HasSuffix(out, "[truncated]"))
	assert.Equal(t, "short", truncate("short", maxCapturedOutput))
}

func TestSanitizedControlOutputsStayOutOfRecord(t *testing.T) {
	res := Success(map[string]any{"ok": true, state.KeyWorkflowExit: true})
	clean := state.SanitizeOutputs(res.Outputs)
	assert.Equal(t, map[string]any{"ok": true}, clean)
}
