package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

func parse(t *testing.T, yaml string) *workflow.Document {
	t.Helper()
	doc, err := workflow.Parse([]byte(yaml), "test.yaml")
	require.NoError(t, err)
	return doc
}

// fakeShell records executed commands and returns scripted results.
type fakeShell struct {
	mu       sync.Mutex
	commands []string
	results  map[string]action.CommandResult
}

func (f *fakeShell) run(_ context.Context, spec action.CommandSpec) (action.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, spec.Command)
	if res, ok := f.results[spec.Command]; ok {
		return res, nil
	}
	return action.CommandResult{Stdout: "ok\n"}, nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeShell) {
	t.Helper()
	shell := &fakeShell{results: map[string]action.CommandResult{}}
	opts = append([]Option{WithRunCommand(shell.run)}, opts...)
	e := New(opts...)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e, shell
}

func stepOutputs(t *testing.T, res *RunResult, id string) map[string]any {
	t.Helper()
	entry, ok := res.Steps[id].(map[string]any)
	require.True(t, ok, "step %q not recorded", id)
	outputs, _ := entry["outputs"].(map[string]any)
	return outputs
}

func stepOutcome(res *RunResult, id string) string {
	entry, _ := res.Steps[id].(map[string]any)
	outcome, _ := entry["outcome"].(string)
	return outcome
}

func TestRunLinearSuccess(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: linear
jobs:
  main:
    steps:
      - id: first
        run: echo one
      - id: second
        run: echo two
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"echo one", "echo two"}, shell.commands)
	assert.Equal(t, state.OutcomeSuccess, stepOutcome(res, "first"))
	assert.Equal(t, "ok\n", stepOutputs(t, res, "second")["stdout"])
}

func TestRunExpressionsResolveAcrossSteps(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: chained
inputs:
  target:
    type: string
    default: prod
jobs:
  main:
    steps:
      - id: vars
        uses: set
        with:
          host: "${{ inputs.target }}.example.com"
      - id: ping
        run: ping ${{ steps.vars.outputs.host | shell_quote }}
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "prod.example.com", stepOutputs(t, res, "vars")["host"])
	require.Len(t, shell.commands, 1)
	assert.Equal(t, "ping 'prod.example.com'", shell.commands[0])
}

func TestRunConditionalSkip(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: guarded
inputs:
  deploy:
    type: boolean
    default: false
jobs:
  main:
    steps:
      - id: release
        if: ${{ inputs.deploy }}
        run: make release
      - id: report
        run: echo done
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, state.OutcomeSkipped, stepOutcome(res, "release"))
	assert.Empty(t, stepOutputs(t, res, "release"))
	assert.Equal(t, []string{"echo done"}, shell.commands)

	res, err = e.Run(context.Background(), doc, map[string]any{"deploy": true})
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, stepOutcome(res, "release"))
}

func TestRunFailureFailsWorkflow(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["make build"] = action.CommandResult{Stderr: "boom", ExitCode: 2}
	doc := parse(t, `
schema_version: "1.0"
name: failing
jobs:
  main:
    steps:
      - id: build
        run: make build
      - id: after
        run: echo unreachable
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, state.OutcomeFailure, stepOutcome(res, "build"))
	assert.Equal(t, []string{"make build"}, shell.commands)
	_, ran := res.Steps["after"]
	assert.False(t, ran)
}

func TestRunOnFailureRouting(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["make build"] = action.CommandResult{ExitCode: 1}
	doc := parse(t, `
schema_version: "1.0"
name: recover
jobs:
  main:
    steps:
      - id: build
        run: make build
        on_failure: notify
      - id: ship
        run: echo shipping
      - id: notify
        run: echo alerting
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	// handler ran, and execution continued past it to cleanup, not back to
	// ship
	assert.Equal(t, []string{"make build", "echo alerting"}, shell.commands)
}

func TestRunContinueOnError(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["flaky"] = action.CommandResult{ExitCode: 1}
	doc := parse(t, `
schema_version: "1.0"
name: tolerant
jobs:
  main:
    steps:
      - id: optional
        run: flaky
        continue_on_error: true
      - id: after
        run: echo still here
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, state.OutcomeFailure, stepOutcome(res, "optional"))
	assert.Equal(t, []string{"flaky", "echo still here"}, shell.commands)
}

func TestRunExitAction(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: early-exit
jobs:
  main:
    steps:
      - id: done
        uses: exit
        with:
          message: nothing to do
      - id: never
        run: echo unreachable
finally:
  - id: report
    run: echo reporting
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	// finally still runs, the skipped step does not
	assert.Equal(t, []string{"echo reporting"}, shell.commands)
}

func TestRunFailAction(t *testing.T) {
	e, _ := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: hard-fail
jobs:
  main:
    steps:
      - id: gate
        uses: fail
        with:
          message: precondition not met
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "precondition not met", res.Error)
}

func TestRunLoopAggregatesResults(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: looped
jobs:
  main:
    steps:
      - id: greet
        loop: [ada, grace]
        run: greet ${{ loop.item | shell_quote }}
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"greet 'ada'", "greet 'grace'"}, shell.commands)

	outputs := stepOutputs(t, res, "greet")
	assert.Equal(t, 2, outputs["count"])
	assert.Equal(t, 2, outputs["success_count"])
	assert.Equal(t, "complete", outputs["reason"])
	results := outputs["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "ada", results[0].(map[string]any)["item"])
}

func TestRunLoopBreakIf(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["probe 1"] = action.CommandResult{Stdout: "found\n"}
	doc := parse(t, `
schema_version: "1.0"
name: searching
jobs:
  main:
    steps:
      - id: probe
        loop: [0, 1, 2, 3]
        run: probe ${{ loop.item }}
        break_if: ${{ "found" in loop.output.stdout }}
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"probe 0", "probe 1"}, shell.commands)

	outputs := stepOutputs(t, res, "probe")
	assert.Equal(t, state.OutcomeBreak, stepOutcome(res, "probe"))
	assert.Equal(t, true, outputs["break_early"])
	assert.Equal(t, 1, outputs["break_index"])
	assert.Equal(t, "break_if", outputs["reason"])
}

func TestRunLoopEmptyCollection(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: empty-loop
jobs:
  main:
    steps:
      - id: scan
        loop: []
        run: scan ${{ loop.item }}
      - id: after
        run: echo after
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"echo after"}, shell.commands)

	outputs := stepOutputs(t, res, "scan")
	assert.Equal(t, 0, outputs["count"])
	assert.Equal(t, "empty", outputs["reason"])
}

func TestRunLoopPartialFailures(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["handle 'b'"] = action.CommandResult{ExitCode: 1, Stderr: "bad"}
	doc := parse(t, `
schema_version: "1.0"
name: partial
jobs:
  main:
    steps:
      - id: handle
        loop: [a, b, c]
        run: handle ${{ loop.item | shell_quote }}
        continue_on_error: true
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	// partial loop outcome does not fail the workflow
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, state.OutcomePartial, stepOutcome(res, "handle"))
	assert.Equal(t, []string{"handle 'a'", "handle 'b'", "handle 'c'"}, shell.commands)

	outputs := stepOutputs(t, res, "handle")
	assert.Equal(t, 2, outputs["success_count"])
	errs := outputs["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "b", errs[0].(map[string]any)["item"])
}

func TestRunLoopAbortsOnFailure(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["handle 'b'"] = action.CommandResult{ExitCode: 1, Stderr: "bad"}
	doc := parse(t, `
schema_version: "1.0"
name: strict
jobs:
  main:
    steps:
      - id: handle
        loop: [a, b, c]
        run: handle ${{ loop.item | shell_quote }}
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	// without continue_on_error the first failing iteration stops the loop
	// and fails the workflow
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, state.OutcomeFailure, stepOutcome(res, "handle"))
	assert.Equal(t, []string{"handle 'a'", "handle 'b'"}, shell.commands)

	outputs := stepOutputs(t, res, "handle")
	assert.Equal(t, 2, outputs["count"])
	assert.Equal(t, 1, outputs["success_count"])
	assert.Equal(t, "error", outputs["reason"])
	errs := outputs["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "b", errs[0].(map[string]any)["item"])
}

func TestRunLoopBreakAction(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: break-out
jobs:
  main:
    steps:
      - id: walk
        loop: [1, 2, 3]
        uses: break
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Empty(t, shell.commands)

	outputs := stepOutputs(t, res, "walk")
	assert.Equal(t, 1, outputs["count"])
	assert.Equal(t, "break_requested", outputs["reason"])
}

func TestRunLoopCapturesIterationOutputs(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: paired
jobs:
  main:
    steps:
      - id: outer
        loop: [x, y]
        uses: set
        with:
          pair: "${{ loop.item }}"
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, shell.commands)

	outputs := stepOutputs(t, res, "outer")
	results := outputs["results"].([]any)
	require.Len(t, results, 2)
	second := results[1].(map[string]any)["outputs"].(map[string]any)
	assert.Equal(t, "y", second["pair"])
}

func TestRunRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	reg := action.NewRegistry()
	reg.Register("shell", func() action.Action { return &action.ShellAction{} })
	reg.Register("flaky", func() action.Action {
		return actionFunc(func(context.Context, *workflow.Step, *state.State, *action.ExecContext) (*action.Result, error) {
			attempts++
			if attempts < 3 {
				return action.Failure("transient", action.ErrTypeNetwork), nil
			}
			return action.Success(map[string]any{"attempts": attempts}), nil
		})
	})

	e, _ := newTestEngine(t, WithRegistry(reg))
	doc := parse(t, `
schema_version: "1.0"
name: retried
jobs:
  main:
    steps:
      - id: fetch
        uses: flaky
        retry:
          max_attempts: 3
          delay: 0.01
          retry_on: [network]
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, stepOutputs(t, res, "fetch")["attempts"])
}

func TestRunRetryOnFilterSkipsOtherKinds(t *testing.T) {
	attempts := 0
	reg := action.NewRegistry()
	reg.Register("shell", func() action.Action { return &action.ShellAction{} })
	reg.Register("broken", func() action.Action {
		return actionFunc(func(context.Context, *workflow.Step, *state.State, *action.ExecContext) (*action.Result, error) {
			attempts++
			return action.Failure("schema mismatch", action.ErrTypeSchema), nil
		})
	})

	e, _ := newTestEngine(t, WithRegistry(reg))
	doc := parse(t, `
schema_version: "1.0"
name: no-retry
jobs:
  main:
    steps:
      - id: fetch
        uses: broken
        retry:
          max_attempts: 5
          delay: 0.01
          retry_on: [network]
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, attempts)
}

func TestRunReservedKeysStrippedFromOutputs(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register("shell", func() action.Action { return &action.ShellAction{} })
	reg.Register("sneaky", func() action.Action {
		return actionFunc(func(context.Context, *workflow.Step, *state.State, *action.ExecContext) (*action.Result, error) {
			return action.Success(map[string]any{
				"ok":            true,
				"__loop_count_x": 99,
				"__resume_data": "stolen",
			}), nil
		})
	})

	e, _ := newTestEngine(t, WithRegistry(reg))
	doc := parse(t, `
schema_version: "1.0"
name: sanitized
jobs:
  main:
    steps:
      - id: s
        uses: sneaky
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	outputs := stepOutputs(t, res, "s")
	assert.Equal(t, map[string]any{"ok": true}, outputs)
}

func TestRunFinallyRunsAfterFailure(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["make build"] = action.CommandResult{ExitCode: 1}
	doc := parse(t, `
schema_version: "1.0"
name: cleanup
jobs:
  main:
    steps:
      - id: build
        run: make build
finally:
  - id: teardown
    run: make clean
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"make build", "make clean"}, shell.commands)
	assert.Equal(t, state.OutcomeSuccess, stepOutcome(res, "teardown"))
}

func TestRunFinallyFailureDoesNotLoop(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["make clean"] = action.CommandResult{ExitCode: 1}
	doc := parse(t, `
schema_version: "1.0"
name: bad-cleanup
jobs:
  main:
    steps:
      - id: work
        run: echo working
finally:
  - id: teardown
    run: make clean
  - id: report
    run: echo reporting
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo working", "make clean", "echo reporting"}, shell.commands)
	assert.Equal(t, state.OutcomeFailure, stepOutcome(res, "teardown"))
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestRunSuspendAndResume(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: approval
jobs:
  main:
    steps:
      - id: ask
        uses: input
        with:
          prompt: "Deploy to prod?"
          type: confirm
      - id: deploy
        run: make deploy
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, res.Status)
	require.NotNil(t, res.Suspension)
	assert.Equal(t, "ask", res.Suspension.StepID)
	assert.Equal(t, "Deploy to prod?", res.Suspension.Prompt)
	assert.Empty(t, shell.commands)

	resumed, err := e.Resume(context.Background(), res.Snapshot, map[string]any{"value": "true"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, "true", stepOutputs(t, resumed, "ask")["value"])
	assert.Equal(t, []string{"make deploy"}, shell.commands)
}

func TestRunResumeDataVisibleInState(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register("shell", func() action.Action { return &action.ShellAction{} })
	reg.Register("gatekeeper", func() action.Action {
		return actionFunc(func(_ context.Context, _ *workflow.Step, st *state.State, ec *action.ExecContext) (*action.Result, error) {
			if ec.ResumeData == nil {
				return &action.Result{
					Outputs:    map[string]any{},
					Outcome:    state.OutcomeSuspended,
					Suspension: &action.Suspension{StepID: "gate", Prompt: "proceed?"},
				}, nil
			}
			raw, _ := st.Get(state.KeyResumeData)
			return action.Success(map[string]any{"seen": raw}), nil
		})
	})

	e, _ := newTestEngine(t, WithRegistry(reg))
	doc := parse(t, `
schema_version: "1.0"
name: resumable
jobs:
  main:
    steps:
      - id: gate
        uses: gatekeeper
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)

	resumed, err := e.Resume(context.Background(), res.Snapshot, map[string]any{"value": "yes"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)

	// the payload was exposed under __resume_data keyed by step id
	seen, ok := stepOutputs(t, resumed, "gate")["seen"].(map[string]any)
	require.True(t, ok)
	payload, ok := seen["gate"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "yes", payload["value"])

	// and stripped again once the resumed step finished
	_, lingering := resumed.State.Get(state.KeyResumeData)
	assert.False(t, lingering)
}

func TestRunInlinePromptAnswersWithoutSuspending(t *testing.T) {
	e, _ := newTestEngine(t, WithPrompt(func(_ context.Context, s action.Suspension) (string, error) {
		return "blue", nil
	}))
	doc := parse(t, `
schema_version: "1.0"
name: inline
jobs:
  main:
    steps:
      - id: pick
        uses: input
        with:
          prompt: "Color?"
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "blue", stepOutputs(t, res, "pick")["value"])
}

func TestRunInputCoercion(t *testing.T) {
	e, _ := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: typed
inputs:
  replicas:
    type: integer
    required: true
jobs:
  main:
    steps:
      - id: vars
        uses: set
        with:
          n: ${{ inputs.replicas }}
`)
	res, err := e.Run(context.Background(), doc, map[string]any{"replicas": "4"})
	require.NoError(t, err)
	assert.Equal(t, 4, stepOutputs(t, res, "vars")["n"])

	_, err = e.Run(context.Background(), doc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required input")
}

func TestRunEnvResolution(t *testing.T) {
	var gotEnv map[string]string
	e, _ := newTestEngine(t)
	e.runCommand = func(_ context.Context, spec action.CommandSpec) (action.CommandResult, error) {
		gotEnv = spec.Env
		return action.CommandResult{}, nil
	}
	doc := parse(t, `
schema_version: "1.0"
name: env-test
inputs:
  region:
    type: string
    default: eu-west-1
env:
  REGION: ${{ inputs.region }}
  STATIC: fixed
jobs:
  main:
    steps:
      - id: go
        run: deploy
`)
	_, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", gotEnv["REGION"])
	assert.Equal(t, "fixed", gotEnv["STATIC"])
}

func TestRunEventsOrdered(t *testing.T) {
	events := make(chan Event, 64)
	e, _ := newTestEngine(t, WithEvents(events))
	doc := parse(t, `
schema_version: "1.0"
name: observed
jobs:
  main:
    steps:
      - id: one
        run: echo hi
`)
	_, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	close(events)

	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	// the shell action streams its stdout between step start and end
	assert.Equal(t, []string{
		EventWorkflowStart, EventStepStart, EventStepOutput, EventStepEnd, EventWorkflowEnd,
	}, types)
}

func TestRunCheckpointHookFires(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	e, _ := newTestEngine(t, WithCheckpoint(func(snap *Snapshot) {
		mu.Lock()
		seen = append(seen, snap.StepID)
		mu.Unlock()
	}))
	doc := parse(t, `
schema_version: "1.0"
name: checkpointed
jobs:
  main:
    steps:
      - id: a
        run: echo a
      - id: b
        run: echo b
`)
	_, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRunNeedsSkipsWhenUnmet(t *testing.T) {
	e, shell := newTestEngine(t)
	shell.results["fetch"] = action.CommandResult{ExitCode: 1}
	doc := parse(t, `
schema_version: "1.0"
name: needs
jobs:
  main:
    steps:
      - id: fetch
        run: fetch
        continue_on_error: true
      - id: process
        needs: [fetch]
        run: process
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, state.OutcomeSkipped, stepOutcome(res, "process"))
	assert.Equal(t, []string{"fetch"}, shell.commands)
}

func TestRunVisitLimitAborts(t *testing.T) {
	e, _ := newTestEngine(t, WithMaxNodeVisits(10))
	doc := parse(t, `
schema_version: "1.0"
name: runaway
jobs:
  main:
    steps:
      - id: spin
        loop: true
        uses: set
        with:
          x: 1
`)
	_, err := e.Run(context.Background(), doc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visit limit")
}

func TestRunWorkflowTimeout(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register("shell", func() action.Action { return &action.ShellAction{} })
	reg.Register("slow", func() action.Action {
		return actionFunc(func(ctx context.Context, _ *workflow.Step, _ *state.State, _ *action.ExecContext) (*action.Result, error) {
			select {
			case <-ctx.Done():
				return action.Failure("cancelled", action.ErrTypeTimeout), nil
			case <-time.After(5 * time.Second):
				return action.Success(nil), nil
			}
		})
	})

	e, shell := newTestEngine(t, WithRegistry(reg), WithTimeout(50*time.Millisecond))
	doc := parse(t, `
schema_version: "1.0"
name: slowpoke
jobs:
  main:
    steps:
      - id: crawl
        uses: slow
finally:
  - id: report
    run: echo done
`)
	res, err := e.Run(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, res.Status)
	// finally still ran on the detached context
	assert.Equal(t, []string{"echo done"}, shell.commands)
}

func TestRunCancelledContextInterrupts(t *testing.T) {
	e, shell := newTestEngine(t)
	doc := parse(t, `
schema_version: "1.0"
name: cancelled
jobs:
  main:
    steps:
      - id: work
        run: echo working
finally:
  - id: report
    run: echo done
`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	// only the finally chain ran
	assert.Equal(t, []string{"echo done"}, shell.commands)
}

// actionFunc adapts a function to the Action interface for test doubles.
type actionFunc func(ctx context.Context, step *workflow.Step, st *state.State, ec *action.ExecContext) (*action.Result, error)

func (actionFunc) Reads() []string  { return nil }
func (actionFunc) Writes() []string { return nil }

func (f actionFunc) Execute(ctx context.Context, step *workflow.Step, st *state.State, ec *action.ExecContext) (*action.Result, error) {
	return f(ctx, step, st, ec)
}
