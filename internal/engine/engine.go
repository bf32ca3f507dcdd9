// Package engine executes compiled workflow graphs: it walks nodes, resolves
// step expressions, runs actions with retries and timeouts, folds results
// into the immutable state, and selects transitions. It also owns the
// suspend/resume lifecycle and the event stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/compiler"
	"github.com/KareemHossam19/Stepwright/internal/expr"
	"github.com/KareemHossam19/Stepwright/internal/graph"
	"github.com/KareemHossam19/Stepwright/internal/logging"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Final run statuses.
const (
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusSuspended   = "suspended"
	StatusTimeout     = "timeout"
	StatusInterrupted = "interrupted"
)

// DefaultMaxNodeVisits caps node executions per run as a runaway guard; loops
// already carry their own iteration caps.
const DefaultMaxNodeVisits = 100000

// Engine runs workflows. Configure it once with options and reuse it across
// runs; per-run state lives in the RunResult and Snapshot.
type Engine struct {
	registry  *action.Registry
	eval      *expr.Evaluator
	logger    *log.Logger
	events    chan<- Event
	workDir   string
	resultDir string
	timeout   time.Duration
	maxVisits int

	baseEnv map[string]string

	runCommand func(ctx context.Context, spec action.CommandSpec) (action.CommandResult, error)
	prompt     func(ctx context.Context, s action.Suspension) (string, error)
	checkpoint func(snap *Snapshot)
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the built-in action registry.
func WithRegistry(r *action.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithEvaluator replaces the default expression evaluator.
func WithEvaluator(ev *expr.Evaluator) Option {
	return func(e *Engine) { e.eval = ev }
}

// WithLogger sets the structured logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEvents attaches an event channel. Emission never blocks; size the
// buffer for the expected burst.
func WithEvents(ch chan<- Event) Option {
	return func(e *Engine) { e.events = ch }
}

// WithWorkDir sets the working directory for shell steps.
func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

// WithResultDir sets where capture files and loop result files are written.
func WithResultDir(dir string) Option {
	return func(e *Engine) { e.resultDir = dir }
}

// WithTimeout bounds the whole run. Zero means unlimited.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithEnv supplies base environment entries for every run; the workflow's
// own env block wins on conflict.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) { e.baseEnv = env }
}

// WithMaxNodeVisits overrides the runaway guard.
func WithMaxNodeVisits(n int) Option {
	return func(e *Engine) { e.maxVisits = n }
}

// WithRunCommand delegates shell execution to the host (sandboxes, test
// fakes).
func WithRunCommand(fn func(ctx context.Context, spec action.CommandSpec) (action.CommandResult, error)) Option {
	return func(e *Engine) { e.runCommand = fn }
}

// WithPrompt lets the host answer input suspensions inline.
func WithPrompt(fn func(ctx context.Context, s action.Suspension) (string, error)) Option {
	return func(e *Engine) { e.prompt = fn }
}

// WithCheckpoint registers a hook invoked with a snapshot after every
// recorded step result, for hosts that persist run progress.
func WithCheckpoint(fn func(snap *Snapshot)) Option {
	return func(e *Engine) { e.checkpoint = fn }
}

// New creates an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry:  action.Builtin(),
		eval:      expr.New(),
		logger:    logging.New("engine"),
		maxVisits: DefaultMaxNodeVisits,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunResult is the outcome of a Run or Resume call.
type RunResult struct {
	Status string
	Error  string

	// State is the final (or suspended) workflow state.
	State *state.State

	// Steps maps step id to its recorded result for convenience; the same
	// data lives in State under "steps".
	Steps map[string]any

	// Suspension and Snapshot are set when Status is suspended; pass the
	// snapshot to Resume together with the requested input.
	Suspension *action.Suspension
	Snapshot   *Snapshot
}

// Run compiles and executes doc with the supplied input values.
func (e *Engine) Run(ctx context.Context, doc *workflow.Document, inputs map[string]any) (*RunResult, error) {
	g, err := compiler.New(e.registry, e.eval).Compile(doc)
	if err != nil {
		return nil, err
	}

	st, err := e.initialState(doc.Workflow, inputs)
	if err != nil {
		return nil, err
	}

	run := &runState{
		graph:    g,
		workflow: doc.Workflow,
		runID:    newRunID(),
		state:    st,
		node:     g.Entry,
	}
	return e.execute(ctx, run)
}

// Resume continues a suspended run. payload becomes the suspended step's
// resume data; the step re-executes and the run proceeds from there.
func (e *Engine) Resume(ctx context.Context, snap *Snapshot, payload map[string]any) (*RunResult, error) {
	if snap == nil || snap.graph == nil {
		return nil, fmt.Errorf("engine: resume requires a snapshot from a suspended run")
	}
	run := &runState{
		graph:    snap.graph,
		workflow: snap.workflow,
		runID:    snap.RunID,
		state:    snap.state,
		node:     snap.Node,
		resume:   payload,
	}
	return e.execute(ctx, run)
}

// runState is the mutable cursor of one execution.
type runState struct {
	graph    *graph.Graph
	workflow *workflow.Workflow
	runID    string
	state    *state.State
	node     string

	// resume holds the payload for the next executed node, then clears.
	resume map[string]any

	// failure records the message of the failure that failed the workflow;
	// later cleanup nodes must not erase it.
	failure string

	interrupted bool
	timedOut    bool

	visits int
}

// initialState coerces inputs, resolves the env block, and seeds the state
// map.
func (e *Engine) initialState(wf *workflow.Workflow, inputs map[string]any) (*state.State, error) {
	specs := make(map[string]state.InputSpec, len(wf.Inputs))
	for name, in := range wf.Inputs {
		specs[name] = state.InputSpec{
			Type:     in.Type,
			Default:  in.Default,
			Required: in.Required,
			Enum:     in.Enum,
			Pattern:  in.Pattern,
		}
	}
	coerced, err := state.CoerceInputs(specs, inputs)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	// env values may reference inputs
	env := make(map[string]any, len(wf.Env))
	envData := map[string]any{state.KeyInputs: coerced}
	for k, v := range wf.Env {
		resolved, rerr := e.eval.ResolveString(v, envData)
		if rerr != nil {
			return nil, fmt.Errorf("engine: resolving env.%s: %w", k, rerr)
		}
		env[k] = expr.Stringify(resolved)
	}

	return state.New(map[string]any{
		state.KeyInputs: coerced,
		state.KeyEnv:    env,
		state.KeySteps:  map[string]any{},
	}), nil
}

// execute drives the node loop until a terminal node, a suspension, or
// cancellation.
func (e *Engine) execute(ctx context.Context, run *runState) (*RunResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.emit(Event{Type: EventWorkflowStart, Workflow: run.workflow.Name, RunID: run.runID})
	e.logger.Info("workflow starting", "workflow", run.workflow.Name, "run_id", run.runID)

	inCleanup := false
	for run.node != "" && run.node != graph.End {
		if ctx.Err() != nil && !inCleanup {
			// run the finally chain on a detached context, then report
			// timeout or interrupted depending on why the context died
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				run.timedOut = true
			} else {
				run.interrupted = true
			}
			e.logger.Warn("run cancelled, entering cleanup",
				"workflow", run.workflow.Name, "cause", ctx.Err())
			run.node = graph.Cleanup
			ctx = context.WithoutCancel(ctx)
			inCleanup = true
			continue
		}

		if run.visits++; run.visits > e.maxVisits {
			return nil, fmt.Errorf("engine: node visit limit exceeded (%d), aborting runaway workflow", e.maxVisits)
		}

		node := run.graph.Node(run.node)
		if node == nil {
			return nil, fmt.Errorf("engine: transition to unknown node %q", run.node)
		}
		if node.Finally && !inCleanup {
			inCleanup = true
			ctx = context.WithoutCancel(ctx)
		}

		res, err := e.execNode(ctx, run, node)
		if err != nil {
			return nil, err
		}

		e.fold(run, node, res)

		if res.Outcome == state.OutcomeSuspended && res.Suspension != nil {
			snap := &Snapshot{
				WorkflowName: run.workflow.Name,
				RunID:        run.runID,
				Node:         node.Name,
				StepID:       node.StepID,
				graph:        run.graph,
				workflow:     run.workflow,
				state:        run.state,
			}
			e.emit(Event{
				Type: EventWorkflowSuspend, Workflow: run.workflow.Name,
				RunID: run.runID, StepID: node.StepID,
			})
			e.logger.Info("workflow suspended", "step", node.StepID)
			return &RunResult{
				Status:     StatusSuspended,
				State:      run.state,
				Steps:      stepsOf(run.state),
				Suspension: res.Suspension,
				Snapshot:   snap,
			}, nil
		}

		next := node.Next(run.state)
		if hint := res.NextHint; hint != "" && run.graph.Has(hint) {
			next = hint
		}
		if next == "" {
			return nil, fmt.Errorf("engine: node %q has no applicable transition", node.Name)
		}
		run.node = next
	}

	status := StatusCompleted
	errMsg := ""
	if run.state.Bool(state.KeyWorkflowFailed) {
		status = StatusFailed
		errMsg = run.failure
	}
	if run.interrupted {
		status = StatusInterrupted
	}
	if run.timedOut {
		status = StatusTimeout
	}

	e.emit(Event{Type: EventWorkflowEnd, Workflow: run.workflow.Name, RunID: run.runID, Status: status})
	e.logger.Info("workflow finished", "workflow", run.workflow.Name, "status", status)

	return &RunResult{
		Status: status,
		Error:  errMsg,
		State:  run.state,
		Steps:  stepsOf(run.state),
	}, nil
}

// fold applies a node result to the run state: trusted updates for internal
// nodes, control-key propagation, sanitized output recording, and the
// workflow-failure decision.
func (e *Engine) fold(run *runState, node *graph.Node, res *action.Result) {
	st := run.state

	// the resume payload is visible only while the resumed step executes
	if _, ok := st.Get(state.KeyResumeData); ok {
		st = st.Without(state.KeyResumeData)
	}

	if node.Internal && len(res.Updates) > 0 {
		st = st.WithAll(res.Updates)
	}

	// whitelist propagation of control keys from outputs
	for k, v := range res.Outputs {
		if state.IsControl(k) {
			st = st.With(k, v)
		}
	}

	outcome := res.Outcome
	if outcome == "" {
		outcome = state.OutcomeSuccess
	}
	st = st.With(state.KeyStepOutcome, outcome)
	if res.Error != "" {
		st = st.With(state.KeyStepError, res.Error)
	} else {
		st = st.Without(state.KeyStepError)
	}

	// record the step result
	record := !node.Internal || outcome == state.OutcomeSkipped ||
		(node.Internal && len(state.SanitizeOutputs(res.Outputs)) > 0)
	if record && node.StepID != "" {
		entry := map[string]any{
			"outputs": state.SanitizeOutputs(res.Outputs),
			"outcome": outcome,
		}
		if res.Error != "" {
			entry["error"] = res.Error
			entry["error_type"] = res.ErrorType
		}
		st = st.WithStepResult(node.StepID, entry)
	}

	// a failure outside a loop body fails the workflow unless the step
	// handles it
	if outcome == state.OutcomeFailure && !node.LoopBody && !node.Finally {
		handled := false
		if s := node.Step; s != nil {
			// controller failures (guard or loop machinery) always fail the
			// workflow; only the user-facing result nodes honor handlers
			controller := node.Internal && !strings.HasSuffix(node.Name, "_finalize")
			if !controller {
				handled = s.ContinueOnError || s.OnFailure != ""
			}
		}
		if !handled {
			st = st.With(state.KeyWorkflowFailed, true)
			if run.failure == "" {
				run.failure = res.Error
			}
		}
	}

	run.state = st

	if record && node.StepID != "" {
		if !node.Internal || outcome != state.OutcomeSuccess || len(res.Outputs) > 0 {
			e.emit(Event{
				Type: EventStepEnd, Workflow: run.workflow.Name, RunID: run.runID,
				StepID: node.StepID, Outcome: outcome, Error: res.Error,
				Reason: res.Reason,
			})
		}
		if node.LoopBody {
			if f := run.state.Frame(); f != nil {
				e.emit(Event{
					Type: EventIterationEnd, Workflow: run.workflow.Name, RunID: run.runID,
					StepID: node.StepID, Outcome: outcome, Iteration: f.Index0,
				})
			}
		}
		if e.checkpoint != nil {
			e.checkpoint(&Snapshot{
				WorkflowName: run.workflow.Name,
				RunID:        run.runID,
				Node:         node.Name,
				StepID:       node.StepID,
				graph:        run.graph,
				workflow:     run.workflow,
				state:        run.state,
			})
		}
	}
}

func stepsOf(st *state.State) map[string]any {
	steps, _ := st.Data()[state.KeySteps].(map[string]any)
	return steps
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newRunID() string {
	return fmt.Sprintf("run_%d", time.Now().UnixNano())
}
