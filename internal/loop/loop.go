// Package loop implements the controller actions behind a looped step. The
// compiler expands `loop:` into five nodes (init, check, body, advance,
// finalize); this package provides the init/check/advance/finalize
// controllers and the iteration result storage backends.
//
// All controllers are internal actions: they communicate through trusted
// state Updates under the __loop_ namespace, and finalize reports the
// consolidated result as the looped step's outputs.
package loop

import (
	"context"
	"fmt"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/expr"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Defaults applied when the step omits the corresponding modifier.
const (
	// DefaultMaxIterations bounds `loop: true`. Bounded loops default to
	// their item count.
	DefaultMaxIterations = 10000

	// DefaultMaxResults is the memory storage sliding-window size.
	DefaultMaxResults = 100

	// DefaultMaxErrors caps recorded iteration errors when the step does not
	// set max_errors.
	DefaultMaxErrors = 50
)

// Termination reasons reported in the consolidated result.
const (
	ReasonEmpty          = "empty"
	ReasonComplete       = "complete"
	ReasonMaxIterations  = "max_iterations"
	ReasonMaxErrors      = "max_errors"
	ReasonBreakIf        = "break_if"
	ReasonBreakRequested = "break_requested"

	// ReasonError marks a loop aborted by an iteration failure without
	// continue_on_error.
	ReasonError = "error"
)

// KeyBreakRequested is the control key the break action raises; the advance
// controller consumes it.
const KeyBreakRequested = "__loop_break_requested"

// KeyContinue carries the check controller's verdict for transition guards.
const KeyContinue = "__loop_continue"

// Per-loop state keys, suffixed with the step id so nested loops never
// collide.
func countKey(id string) string   { return "__loop_count_" + id }
func successKey(id string) string { return "__loop_success_" + id }
func errorsKey(id string) string  { return "__loop_errors_" + id }
func resultsKey(id string) string { return "__loop_results_" + id }
func fileKey(id string) string    { return "__loop_file_" + id }
func reasonKey(id string) string  { return "__loop_reason_" + id }
func breakKey(id string) string   { return "__loop_break_" + id }
func failedKey(id string) string  { return "__loop_failed_" + id }

// maxIterations resolves the effective iteration cap for step.
func maxIterations(step *workflow.Step) int {
	if step.MaxIterations > 0 {
		return step.MaxIterations
	}
	if step.IsInfiniteLoop() {
		return DefaultMaxIterations
	}
	return 0 // bounded by the item count
}

func maxResults(step *workflow.Step) int {
	if step.MaxResults > 0 {
		return step.MaxResults
	}
	return DefaultMaxResults
}

func maxErrors(step *workflow.Step) int {
	if step.MaxErrors > 0 {
		return step.MaxErrors
	}
	return DefaultMaxErrors
}

// Init resolves the loop expression, builds the first frame, and zeroes the
// per-loop counters. An empty collection still routes through check, which
// detects immediate exhaustion and finalizes with reason "empty".
type Init struct {
	Step *workflow.Step
	Eval *expr.Evaluator
}

func (a *Init) Reads() []string  { return []string{state.KeyInputs, state.KeySteps, state.KeyLoop} }
func (a *Init) Writes() []string { return []string{state.KeyLoop} }

func (a *Init) Execute(_ context.Context, _ *workflow.Step, st *state.State, _ *action.ExecContext) (*action.Result, error) {
	items, total, err := a.resolveItems(st)
	if err != nil {
		return failure(err.Error(), action.ErrTypeExpression), nil
	}

	id := a.Step.ID
	frame := state.NewFrame(items, total, st.Frame())
	updates := map[string]any{
		state.KeyLoop:  frame,
		countKey(id):   0,
		successKey(id): 0,
		errorsKey(id):  []any{},
		reasonKey(id):  nil,
		breakKey(id):   nil,
		failedKey(id):  nil,
	}
	if storageOf(a.Step) == StorageMemory {
		updates[resultsKey(id)] = []any{}
	}
	return &action.Result{Updates: updates, Outcome: state.OutcomeSuccess}, nil
}

// resolveItems turns the step's loop field into a concrete item list.
// Supported forms: true (unbounded), an integer count, a literal list, and a
// ${{ }} expression resolving to a list or integer.
func (a *Init) resolveItems(st *state.State) (items []any, total int, err error) {
	raw := a.Step.Loop
	if s, ok := raw.(string); ok {
		resolved, rerr := a.Eval.ResolveString(s, st.Data())
		if rerr != nil {
			return nil, 0, fmt.Errorf("resolving loop expression: %w", rerr)
		}
		raw = resolved
	}

	switch v := raw.(type) {
	case bool:
		if !v {
			return nil, 0, nil
		}
		return nil, -1, nil
	case int:
		return ordinals(v), v, nil
	case int64:
		return ordinals(int(v)), int(v), nil
	case uint64:
		return ordinals(int(v)), int(v), nil
	case float64:
		if v != float64(int(v)) {
			return nil, 0, fmt.Errorf("loop count must be an integer, got %v", v)
		}
		return ordinals(int(v)), int(v), nil
	case []any:
		return v, len(v), nil
	default:
		return nil, 0, fmt.Errorf("loop must be a list, an integer, or true, got %T", raw)
	}
}

func ordinals(n int) []any {
	if n < 0 {
		n = 0
	}
	items := make([]any, n)
	for i := range items {
		items[i] = i
	}
	return items
}

// Check decides whether another iteration runs. It writes __loop_continue for
// the outgoing transitions: true routes to the body, false to finalize.
type Check struct {
	Step *workflow.Step
}

func (a *Check) Reads() []string  { return []string{state.KeyLoop} }
func (a *Check) Writes() []string { return []string{KeyContinue} }

func (a *Check) Execute(_ context.Context, _ *workflow.Step, st *state.State, _ *action.ExecContext) (*action.Result, error) {
	id := a.Step.ID
	frame := st.Frame()
	if frame == nil {
		return failure("loop check without an active frame", "internal"), nil
	}

	stop := func(reason string) *action.Result {
		updates := map[string]any{KeyContinue: false}
		if reason != "" && st.String(reasonKey(id)) == "" {
			updates[reasonKey(id)] = reason
		}
		return &action.Result{Updates: updates, Outcome: state.OutcomeSuccess}
	}

	if st.String(reasonKey(id)) != "" {
		// advance already decided to stop (break_if or break action)
		return stop(""), nil
	}
	if raw, _ := st.Get(errorsKey(id)); raw != nil {
		if list, ok := raw.([]any); ok && len(list) >= maxErrors(a.Step) {
			return stop(ReasonMaxErrors), nil
		}
	}
	if max := maxIterations(a.Step); max > 0 && st.Int(countKey(id)) >= max {
		return stop(ReasonMaxIterations), nil
	}
	if frame.Exhausted() {
		if frame.Total == 0 {
			return stop(ReasonEmpty), nil
		}
		return stop(ReasonComplete), nil
	}

	return &action.Result{
		Updates: map[string]any{KeyContinue: true},
		Outcome: state.OutcomeSuccess,
	}, nil
}

// Advance runs after each body iteration. It appends the iteration record to
// storage, tallies counters, evaluates break_if against a frame that exposes
// the fresh body output as loop.output, honors a pending break request, and
// moves the frame to the next item.
type Advance struct {
	Step *workflow.Step
	Eval *expr.Evaluator
}

func (a *Advance) Reads() []string {
	return []string{state.KeyLoop, state.KeySteps, state.KeyStepOutcome, state.KeyStepError}
}

func (a *Advance) Writes() []string { return []string{state.KeyLoop} }

func (a *Advance) Execute(_ context.Context, _ *workflow.Step, st *state.State, ec *action.ExecContext) (*action.Result, error) {
	id := a.Step.ID
	frame := st.Frame()
	if frame == nil {
		return failure("loop advance without an active frame", "internal"), nil
	}

	outcome := st.String(state.KeyStepOutcome)
	if outcome == "" {
		outcome = state.OutcomeSuccess
	}
	var outputs any
	if bodyResult := st.StepResult(id); bodyResult != nil {
		outputs = bodyResult["outputs"]
	}

	updates := map[string]any{}
	count := st.Int(countKey(id)) + 1
	updates[countKey(id)] = count
	if outcome == state.OutcomeFailure {
		raw, _ := st.Get(errorsKey(id))
		list, _ := raw.([]any)
		list = append(list, map[string]any{
			"index": frame.Index0,
			"item":  frame.Item,
			"error": st.String(state.KeyStepError),
		})
		updates[errorsKey(id)] = list
		if !a.Step.ContinueOnError {
			// first failure aborts the loop: check routes straight to
			// finalize, which reports a failure outcome
			updates[reasonKey(id)] = ReasonError
			updates[failedKey(id)] = true
			return &action.Result{Updates: updates, Outcome: state.OutcomeSuccess}, nil
		}
	} else if outcome != state.OutcomeSkipped {
		updates[successKey(id)] = st.Int(successKey(id)) + 1
	}

	if a.Step.Aggregate() && outcome != state.OutcomeSkipped {
		record := map[string]any{
			"index":   frame.Index0,
			"item":    frame.Item,
			"outcome": outcome,
			"outputs": outputs,
		}
		if err := a.store(st, ec, record, updates); err != nil {
			return failure("storing loop result: "+err.Error(), "storage"), nil
		}
	}

	brk := func(reason string) *action.Result {
		updates[reasonKey(id)] = reason
		updates[breakKey(id)] = map[string]any{"index": frame.Index0, "item": frame.Item}
		updates[KeyBreakRequested] = nil
		return &action.Result{Updates: updates, Outcome: state.OutcomeSuccess}
	}

	if st.Bool(KeyBreakRequested) {
		return brk(ReasonBreakRequested), nil
	}
	if a.Step.BreakIf != "" && outcome == state.OutcomeSuccess {
		// Expose this iteration's output to break_if as loop.output.
		evalFrame := *frame
		evalFrame.Output = outputs
		data := st.WithAll(map[string]any{state.KeyLoop: &evalFrame}).Data()
		hit, err := a.Eval.EvalCondition(a.Step.BreakIf, data)
		if err != nil {
			return failure("evaluating break_if: "+err.Error(), action.ErrTypeExpression), nil
		}
		if hit {
			return brk(ReasonBreakIf), nil
		}
	}

	next := frame.Next()
	next.Output = outputs
	updates[state.KeyLoop] = next
	return &action.Result{Updates: updates, Outcome: state.OutcomeSuccess}, nil
}

// store appends record via the step's configured storage backend, applying
// the memory sliding window.
func (a *Advance) store(st *state.State, ec *action.ExecContext, record map[string]any, updates map[string]any) error {
	id := a.Step.ID
	switch storageOf(a.Step) {
	case StorageNone:
		return nil
	case StorageFile:
		path := st.String(fileKey(id))
		if path == "" {
			var err error
			path, err = openResultFile(ec, id)
			if err != nil {
				return err
			}
			updates[fileKey(id)] = path
		}
		return appendResult(path, record)
	default:
		raw, ok := st.Get(resultsKey(id))
		var list []any
		if prev, isNew := updates[resultsKey(id)]; isNew {
			list, _ = prev.([]any)
		} else if ok {
			list, _ = raw.([]any)
		}
		list = append(list, record)
		if max := maxResults(a.Step); len(list) > max {
			list = list[len(list)-max:]
		}
		updates[resultsKey(id)] = list
		return nil
	}
}

// Finalize consolidates the loop into a single step result, restores the
// parent frame, and clears the loop's control keys.
type Finalize struct {
	Step *workflow.Step
}

func (a *Finalize) Reads() []string  { return []string{state.KeyLoop} }
func (a *Finalize) Writes() []string { return []string{state.KeyLoop} }

func (a *Finalize) Execute(_ context.Context, _ *workflow.Step, st *state.State, _ *action.ExecContext) (*action.Result, error) {
	id := a.Step.ID
	frame := st.Frame()

	count := st.Int(countKey(id))
	success := st.Int(successKey(id))
	reason := st.String(reasonKey(id))
	if reason == "" {
		if count == 0 {
			reason = ReasonEmpty
		} else {
			reason = ReasonComplete
		}
	}

	var errList []any
	if raw, ok := st.Get(errorsKey(id)); ok {
		errList, _ = raw.([]any)
	}
	aborted := st.Bool(failedKey(id))

	outputs := map[string]any{
		"count":         count,
		"success_count": success,
		"reason":        reason,
	}
	if a.Step.Aggregate() {
		switch storageOf(a.Step) {
		case StorageNone:
		case StorageFile:
			outputs["results_file"] = st.String(fileKey(id))
		default:
			if raw, ok := st.Get(resultsKey(id)); ok && raw != nil {
				outputs["results"] = raw
			} else {
				outputs["results"] = []any{}
			}
		}
	}
	if len(errList) > 0 {
		outputs["errors"] = errList
	}
	brokeEarly := false
	if brk, ok := st.Get(breakKey(id)); ok && brk != nil {
		info, _ := brk.(map[string]any)
		brokeEarly = true
		outputs["break_early"] = true
		outputs["break_item"] = info["item"]
		outputs["break_index"] = info["index"]
	} else {
		outputs["break_early"] = false
	}

	outcome := state.OutcomeSuccess
	switch {
	case aborted || (count > 0 && success == 0 && len(errList) > 0):
		outcome = state.OutcomeFailure
	case len(errList) > 0:
		outcome = state.OutcomePartial
	case brokeEarly:
		outcome = state.OutcomeBreak
	}

	updates := map[string]any{
		countKey(id):      nil,
		successKey(id):    nil,
		errorsKey(id):     nil,
		resultsKey(id):    nil,
		fileKey(id):       nil,
		reasonKey(id):     nil,
		breakKey(id):      nil,
		failedKey(id):     nil,
		KeyContinue:       nil,
		KeyBreakRequested: nil,
		state.KeyLoop:     nil,
	}
	if frame != nil && frame.Parent != nil {
		updates[state.KeyLoop] = frame.Parent
	}

	res := &action.Result{Outputs: outputs, Updates: updates, Outcome: outcome}
	if outcome == state.OutcomeFailure {
		res.ErrorType = "loop"
		if aborted && len(errList) > 0 {
			last, _ := errList[len(errList)-1].(map[string]any)
			res.Error = fmt.Sprintf("iteration %v failed: %v", last["index"], last["error"])
		} else {
			res.Error = fmt.Sprintf("all %d loop iterations failed", count)
		}
	}
	return res, nil
}

func failure(msg, errType string) *action.Result {
	return &action.Result{
		Outputs:   map[string]any{},
		Outcome:   state.OutcomeFailure,
		Error:     msg,
		ErrorType: errType,
	}
}
