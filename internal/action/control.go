package action

import (
	"context"

	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Control actions steer the workflow by writing whitelisted control keys
// into their outputs. The runtime propagates those keys into top-level state
// where the compiler's priority transitions react to them; the keys never
// appear in the recorded step outputs.

// Compile-time interface compliance checks for the built-in actions.
var (
	_ Action = (*ExitAction)(nil)
	_ Action = (*FailAction)(nil)
	_ Action = (*BreakAction)(nil)
	_ Action = (*SetAction)(nil)
	_ Action = (*InputAction)(nil)
	_ Action = (*ShellAction)(nil)
)

// ExitAction terminates the workflow successfully. Finally steps still run
// via the cleanup-priority transition.
type ExitAction struct{}

func (a *ExitAction) Reads() []string  { return nil }
func (a *ExitAction) Writes() []string { return []string{state.KeyWorkflowExit} }

func (a *ExitAction) Execute(_ context.Context, step *workflow.Step, _ *state.State, _ *ExecContext) (*Result, error) {
	outputs := map[string]any{state.KeyWorkflowExit: true}
	if msg, ok := step.With["message"].(string); ok && msg != "" {
		outputs["message"] = msg
	}
	return &Result{Outputs: outputs, Outcome: state.OutcomeSuccess}, nil
}

// FailAction terminates the workflow as failed, with an optional message
// from with.message.
type FailAction struct{}

func (a *FailAction) Reads() []string  { return nil }
func (a *FailAction) Writes() []string { return []string{state.KeyWorkflowFailed} }

func (a *FailAction) Execute(_ context.Context, step *workflow.Step, _ *state.State, _ *ExecContext) (*Result, error) {
	msg := "workflow failed by fail action"
	if m, ok := step.With["message"].(string); ok && m != "" {
		msg = m
	}
	return &Result{
		Outputs:   map[string]any{state.KeyWorkflowFailed: true},
		Outcome:   state.OutcomeFailure,
		Error:     msg,
		ErrorType: "fail_action",
	}, nil
}

// BreakAction requests early exit from the innermost enclosing loop. The
// loop's check node honors the request before the next iteration.
type BreakAction struct{}

func (a *BreakAction) Reads() []string  { return []string{state.KeyLoop} }
func (a *BreakAction) Writes() []string { return []string{"__loop_break_requested"} }

func (a *BreakAction) Execute(_ context.Context, _ *workflow.Step, _ *state.State, _ *ExecContext) (*Result, error) {
	return &Result{
		Outputs: map[string]any{"__loop_break_requested": true},
		Outcome: state.OutcomeSuccess,
	}, nil
}

// SetAction records its resolved with map as the step's outputs, making
// computed values addressable as steps.<id>.outputs.<key>.
type SetAction struct{}

func (a *SetAction) Reads() []string  { return []string{state.KeyInputs, state.KeySteps, state.KeyLoop} }
func (a *SetAction) Writes() []string { return nil }

func (a *SetAction) Execute(_ context.Context, step *workflow.Step, _ *state.State, _ *ExecContext) (*Result, error) {
	outputs := make(map[string]any, len(step.With))
	for k, v := range step.With {
		outputs[k] = v
	}
	return Success(outputs), nil
}

// InputAction suspends the workflow awaiting caller-supplied input. On
// resume the payload appears in the execution context and the action
// completes with outputs {value: <payload>}.
type InputAction struct{}

func (a *InputAction) Reads() []string  { return []string{state.KeyResumeData} }
func (a *InputAction) Writes() []string { return nil }

func (a *InputAction) Execute(ctx context.Context, step *workflow.Step, _ *state.State, ec *ExecContext) (*Result, error) {
	if ec != nil && ec.ResumeData != nil {
		value, ok := ec.ResumeData["value"]
		if !ok {
			value = ec.ResumeData
		}
		return Success(map[string]any{"value": value}), nil
	}

	susp := suspensionFromStep(step)

	// A host that can answer inline (interactive CLI) short-circuits the
	// suspend/resume round trip.
	if ec != nil && ec.Prompt != nil {
		answer, err := ec.Prompt(ctx, *susp)
		if err != nil {
			return Failure("prompt failed: "+err.Error(), "prompt"), nil
		}
		return Success(map[string]any{"value": answer}), nil
	}

	return &Result{
		Outputs:    map[string]any{},
		Outcome:    state.OutcomeSuspended,
		Suspension: susp,
	}, nil
}

// suspensionFromStep builds the suspension request from with fields.
func suspensionFromStep(step *workflow.Step) *Suspension {
	susp := &Suspension{StepID: step.ID, Type: "text"}
	if p, ok := step.With["prompt"].(string); ok {
		susp.Prompt = p
	}
	if t, ok := step.With["type"].(string); ok && t != "" {
		susp.Type = t
	}
	if d, ok := step.With["default"].(string); ok {
		susp.Default = d
	}
	if timeout, ok := step.With["timeout"].(float64); ok {
		susp.Timeout = timeout
	} else if timeout, ok := step.With["timeout"].(int); ok {
		susp.Timeout = float64(timeout)
	}
	if opts, ok := step.With["options"].([]any); ok {
		for _, o := range opts {
			if s, ok := o.(string); ok {
				susp.Options = append(susp.Options, s)
			}
		}
	}
	return susp
}
