package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/expr"
	"github.com/KareemHossam19/Stepwright/internal/graph"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// execNode runs one node: expression resolution, the retry loop, and event
// emission. Returned errors are engine-level aborts; action failures come
// back as failure results.
func (e *Engine) execNode(ctx context.Context, run *runState, node *graph.Node) (*action.Result, error) {
	if node.Action == nil {
		return &action.Result{Outputs: map[string]any{}, Outcome: state.OutcomeSuccess}, nil
	}

	// expose the resume payload to the resumed step's expressions; fold
	// strips it again once the step has run
	if run.resume != nil && !node.Internal {
		run.state = run.state.With(state.KeyResumeData, map[string]any{node.StepID: run.resume})
	}

	step := node.Step
	if step != nil && !node.Internal {
		resolved, err := e.resolveStep(step, run.state)
		if err != nil {
			return &action.Result{
				Outputs:   map[string]any{},
				Outcome:   state.OutcomeFailure,
				Error:     "resolving step expressions: " + err.Error(),
				ErrorType: action.ErrTypeExpression,
			}, nil
		}
		step = resolved
	}

	ec := e.execContext(run, node)

	if !node.Internal {
		e.emit(Event{
			Type: EventStepStart, Workflow: run.workflow.Name, RunID: run.runID,
			StepID: node.StepID, Name: stepName(step),
		})
		e.logger.Debug("step starting", "step", node.StepID, "node", node.Name)
	}

	res, err := e.runWithRetry(ctx, node, step, run.state, ec)
	if err != nil {
		// an exception from the action: convert to failure unless the step
		// tolerates nothing at the engine level
		e.logger.Error("action error", "step", node.StepID, "error", err)
		res = &action.Result{
			Outputs:   map[string]any{},
			Outcome:   state.OutcomeFailure,
			Error:     err.Error(),
			ErrorType: action.ErrTypeSubprocess,
		}
	}
	if res.Outputs == nil {
		res.Outputs = map[string]any{}
	}
	if res.Outcome == "" {
		res.Outcome = state.OutcomeSuccess
	}
	return res, nil
}

// runWithRetry applies the step's retry policy around action execution. The
// per-step timeout bounds each attempt separately.
func (e *Engine) runWithRetry(ctx context.Context, node *graph.Node, step *workflow.Step, st *state.State, ec *action.ExecContext) (*action.Result, error) {
	attempts := 1
	var policy *workflow.Retry
	if step != nil && step.Retry != nil && !node.Internal {
		policy = step.Retry
		if policy.MaxAttempts > 1 {
			attempts = policy.MaxAttempts
		}
	}

	var res *action.Result
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err = e.runOnce(ctx, node, step, st, ec)

		retryable := false
		if err != nil {
			retryable = true
		} else if res.Outcome == state.OutcomeFailure {
			retryable = retryOn(policy, res.ErrorType)
		}
		if !retryable || attempt == attempts || policy == nil {
			break
		}

		delay := backoff(policy, attempt)
		e.logger.Warn("step failed, retrying",
			"step", node.StepID, "attempt", attempt, "delay", delay)
		if serr := e.sleep(ctx, delay); serr != nil {
			return res, err
		}
	}
	return res, err
}

func (e *Engine) runOnce(ctx context.Context, node *graph.Node, step *workflow.Step, st *state.State, ec *action.ExecContext) (*action.Result, error) {
	if step != nil && step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.TimeoutDuration())
		defer cancel()
	}
	return node.Action.Execute(ctx, step, st, ec)
}

// retryOn reports whether an error type matches the policy's retry_on
// filter. An empty filter retries every failure.
func retryOn(policy *workflow.Retry, errType string) bool {
	if policy == nil {
		return false
	}
	if len(policy.RetryOn) == 0 {
		return true
	}
	for _, kind := range policy.RetryOn {
		if kind == errType {
			return true
		}
	}
	return false
}

// backoff computes the delay before the next attempt: exponential with an
// optional cap and full jitter.
func backoff(policy *workflow.Retry, attempt int) time.Duration {
	base := policy.Delay
	if base <= 0 {
		base = 1
	}
	mult := policy.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= mult
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter {
		delay *= 0.5 + rand.Float64()/2
	}
	return time.Duration(delay * float64(time.Second))
}

// resolveStep returns a copy of step with run and with resolved against the
// current state. The original definition is never mutated; loops resolve the
// same step fresh every iteration.
func (e *Engine) resolveStep(step *workflow.Step, st *state.State) (*workflow.Step, error) {
	data := st.Data()
	resolved := *step

	if step.Run != "" {
		v, err := e.eval.ResolveString(step.Run, data)
		if err != nil {
			return nil, err
		}
		resolved.Run = expr.Stringify(v)
	}
	if len(step.With) > 0 {
		v, err := e.eval.ResolveAll(step.With, data)
		if err != nil {
			return nil, err
		}
		m, ok := v.(map[string]any)
		if !ok {
			m = map[string]any{}
		}
		resolved.With = m
	}
	return &resolved, nil
}

// execContext assembles the capability set handed to actions for this node.
func (e *Engine) execContext(run *runState, node *graph.Node) *action.ExecContext {
	ec := &action.ExecContext{
		WorkflowName: run.workflow.Name,
		RunID:        run.runID,
		WorkDir:      e.workDir,
		ResultDir:    e.resultDir,
		Logger:       e.logger,
		RunCommand:   e.runCommand,
		Prompt:       e.prompt,
	}

	ec.Env = make(map[string]string, len(e.baseEnv))
	for k, v := range e.baseEnv {
		ec.Env[k] = v
	}
	if env, ok := run.state.Get(state.KeyEnv); ok {
		if m, isMap := env.(map[string]any); isMap {
			for k, v := range m {
				ec.Env[k] = expr.Stringify(v)
			}
		}
	}

	if run.resume != nil && !node.Internal {
		ec.ResumeData = run.resume
		run.resume = nil
	}

	if e.events != nil {
		stepID := node.StepID
		wf, id := run.workflow.Name, run.runID
		ec.EmitText = func(text string) {
			e.emit(Event{Type: EventStepOutput, Workflow: wf, RunID: id, StepID: stepID, Text: text})
		}
	}
	return ec
}

func stepName(step *workflow.Step) string {
	if step == nil {
		return ""
	}
	if step.Name != "" {
		return step.Name
	}
	return step.ID
}
