package compiler

import (
	"context"
	"fmt"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/expr"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// guardAction is the controller behind a step's guard node. It checks needs
// and evaluates the if: condition, then publishes the verdict under
// __condition_met for the outgoing transitions. On a negative verdict it
// reports a skipped outcome so the step records as skipped.
type guardAction struct {
	step *workflow.Step
	eval *expr.Evaluator
}

func (a *guardAction) Reads() []string {
	return []string{state.KeyInputs, state.KeySteps, state.KeyLoop}
}

func (a *guardAction) Writes() []string { return []string{state.KeyConditionMet} }

func (a *guardAction) Execute(_ context.Context, _ *workflow.Step, st *state.State, _ *action.ExecContext) (*action.Result, error) {
	skip := func(why string) *action.Result {
		return &action.Result{
			Outputs: map[string]any{},
			Outcome: state.OutcomeSkipped,
			Reason:  why,
			Updates: map[string]any{state.KeyConditionMet: false},
		}
	}

	for _, dep := range a.step.Needs {
		res := st.StepResult(dep)
		if res == nil {
			return skip(fmt.Sprintf("needs %q which has not run", dep)), nil
		}
		switch outcome, _ := res["outcome"].(string); outcome {
		case state.OutcomeSuccess, state.OutcomePartial, state.OutcomeBreak:
		default:
			return skip(fmt.Sprintf("needs %q which did not succeed", dep)), nil
		}
	}

	if a.step.If != "" {
		met, err := a.eval.EvalCondition(a.step.If, st.Data())
		if err != nil {
			return &action.Result{
				Outputs:   map[string]any{},
				Outcome:   state.OutcomeFailure,
				Error:     "evaluating if condition: " + err.Error(),
				ErrorType: action.ErrTypeExpression,
				Updates:   map[string]any{state.KeyConditionMet: false},
			}, nil
		}
		if !met {
			return skip("condition not met"), nil
		}
	}

	return &action.Result{
		Outputs: map[string]any{},
		Outcome: state.OutcomeSuccess,
		Updates: map[string]any{state.KeyConditionMet: true},
	}, nil
}

// noopAction backs the cleanup entry node; it only marks the spot where the
// finally chain begins.
type noopAction struct{}

func (noopAction) Reads() []string  { return nil }
func (noopAction) Writes() []string { return nil }

func (noopAction) Execute(_ context.Context, _ *workflow.Step, _ *state.State, _ *action.ExecContext) (*action.Result, error) {
	return &action.Result{Outputs: map[string]any{}, Outcome: state.OutcomeSuccess}, nil
}
