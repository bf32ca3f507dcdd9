// Package compiler lowers a validated workflow definition into the
// executable graph. Each plain step becomes one node; a step with if: or
// needs: gains a guard node in front; a looped step expands into five nodes
// (init, check, body, advance, finalize). The finally block compiles into a
// chain behind the cleanup node, and every path ends at the terminal end
// node.
package compiler

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/expr"
	"github.com/KareemHossam19/Stepwright/internal/graph"
	"github.com/KareemHossam19/Stepwright/internal/loop"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Error is a compilation failure tied to its source location when one is
// known.
type Error struct {
	Message string
	Loc     *workflow.Location
}

func (e *Error) Error() string {
	if loc := e.Loc.String(); loc != "" {
		return fmt.Sprintf("%s: %s", loc, e.Message)
	}
	return e.Message
}

// Compiler lowers documents against a fixed action registry and evaluator.
type Compiler struct {
	registry *action.Registry
	eval     *expr.Evaluator
}

// New creates a compiler. A nil registry uses the built-in actions; a nil
// evaluator uses a default one.
func New(registry *action.Registry, eval *expr.Evaluator) *Compiler {
	if registry == nil {
		registry = action.Builtin()
	}
	if eval == nil {
		eval = expr.New()
	}
	return &Compiler{registry: registry, eval: eval}
}

// Compile lowers doc into an executable graph. The document is expected to
// have passed validation; compile errors still surface for problems only
// resolvable here, such as unknown action names.
func (c *Compiler) Compile(doc *workflow.Document) (*graph.Graph, error) {
	wf := doc.Workflow
	g := graph.New(wf.Name)

	steps := wf.MainSteps()
	assignIDs(steps)
	assignIDs(wf.Finally)

	// Entry node name per step, resolved up front so transitions can point
	// forward. on_failure targets route to the handler step's entry, not its
	// body, so a guarded or looped handler still works.
	entries := make([]string, len(steps))
	entryByID := make(map[string]string, len(steps))
	for i, s := range steps {
		entries[i] = stepEntry(s)
		entryByID[s.ID] = entries[i]
	}
	successor := func(i int) string {
		if i+1 < len(steps) {
			return entries[i+1]
		}
		return graph.Cleanup
	}

	for i, s := range steps {
		if err := c.compileStep(g, doc, i, s, successor(i), entryByID); err != nil {
			return nil, err
		}
	}

	if err := c.compileFinally(g, doc, wf.Finally); err != nil {
		return nil, err
	}

	if len(steps) > 0 {
		g.Entry = entries[0]
	} else {
		g.Entry = graph.Cleanup
	}

	if err := g.Validate(); err != nil {
		return nil, &Error{Message: err.Error()}
	}
	return g, nil
}

// stepEntry returns the name of the first node compiled for s.
func stepEntry(s *workflow.Step) string {
	if s.If != "" || len(s.Needs) > 0 {
		return s.ID + "_cond"
	}
	if s.HasLoop() {
		return s.ID + "_init"
	}
	return s.ID
}

// compileStep emits the node(s) for one main-job step, wiring them toward
// next.
func (c *Compiler) compileStep(g *graph.Graph, doc *workflow.Document, i int, s *workflow.Step, next string, entryByID map[string]string) error {
	act, err := c.resolveAction(doc, workflow.StepPath(i, "uses"), s)
	if err != nil {
		return err
	}

	target := s.ID
	if s.HasLoop() {
		target = s.ID + "_init"
	}
	if s.If != "" || len(s.Needs) > 0 {
		g.Add(&graph.Node{
			Name:     s.ID + "_cond",
			Action:   &guardAction{step: s, eval: c.eval},
			Step:     s,
			StepID:   s.ID,
			Internal: true,
			Transitions: append(prologue(),
				graph.Transition{To: target, Condition: graph.WhenTrue(state.KeyConditionMet)},
				graph.Transition{To: next, Condition: graph.Default()},
			),
		})
	}

	onFailure := s.OnFailure
	if target, ok := entryByID[onFailure]; ok {
		onFailure = target
	}
	if s.HasLoop() {
		c.compileLoop(g, s, act, next, onFailure)
		return nil
	}

	g.Add(&graph.Node{
		Name:        s.ID,
		Action:      act,
		Step:        s,
		StepID:      s.ID,
		Transitions: userTransitions(next, onFailure),
	})
	return nil
}

// compileLoop expands a looped step into its five nodes. The body keeps the
// step's id so per-iteration results record under steps.<id>; the finalize
// node overwrites that record with the consolidated result.
func (c *Compiler) compileLoop(g *graph.Graph, s *workflow.Step, act action.Action, next, onFailure string) {
	init := s.ID + "_init"
	check := s.ID + "_check"
	body := s.ID
	advance := s.ID + "_advance"
	finalize := s.ID + "_finalize"

	g.Add(&graph.Node{
		Name:     init,
		Action:   &loop.Init{Step: s, Eval: c.eval},
		Step:     s,
		StepID:   s.ID,
		Internal: true,
		Transitions: append(prologue(),
			graph.Transition{To: check, Condition: graph.Default()},
		),
	})
	g.Add(&graph.Node{
		Name:     check,
		Action:   &loop.Check{Step: s},
		Step:     s,
		StepID:   s.ID,
		Internal: true,
		Transitions: append(prologue(),
			graph.Transition{To: body, Condition: graph.WhenTrue(loop.KeyContinue)},
			graph.Transition{To: finalize, Condition: graph.Default()},
		),
	})
	// Body failure stays inside the loop; advance and check decide whether
	// the loop carries on. Only an explicit exit escapes early.
	g.Add(&graph.Node{
		Name:     body,
		Action:   act,
		Step:     s,
		StepID:   s.ID,
		LoopBody: true,
		Transitions: []graph.Transition{
			{To: graph.Cleanup, Condition: graph.WhenTrue(state.KeyWorkflowExit)},
			{To: advance, Condition: graph.Default()},
		},
	})
	g.Add(&graph.Node{
		Name:     advance,
		Action:   &loop.Advance{Step: s, Eval: c.eval},
		Step:     s,
		StepID:   s.ID,
		Internal: true,
		Transitions: append(prologue(),
			graph.Transition{To: check, Condition: graph.Default()},
		),
	})
	g.Add(&graph.Node{
		Name:        finalize,
		Action:      &loop.Finalize{Step: s},
		Step:        s,
		StepID:      s.ID,
		Internal:    true,
		Transitions: userTransitions(next, onFailure),
	})
}

// compileFinally emits the cleanup chain: a no-op cleanup entry, one node per
// finally step, then the terminal end node. Finally nodes never route back to
// cleanup; a failing finally step records its failure and the chain moves on.
func (c *Compiler) compileFinally(g *graph.Graph, doc *workflow.Document, steps []*workflow.Step) error {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.ID
	}
	after := func(i int) string {
		if i+1 < len(steps) {
			return names[i+1]
		}
		return graph.End
	}

	first := graph.End
	if len(steps) > 0 {
		first = names[0]
	}
	g.Add(&graph.Node{
		Name:        graph.Cleanup,
		Action:      noopAction{},
		Internal:    true,
		Finally:     true,
		Transitions: []graph.Transition{{To: first, Condition: graph.Default()}},
	})

	for i, s := range steps {
		act, err := c.resolveAction(doc, workflow.FinallyPath(i, "uses"), s)
		if err != nil {
			return err
		}
		g.Add(&graph.Node{
			Name:        s.ID,
			Action:      act,
			Step:        s,
			StepID:      s.ID,
			Finally:     true,
			Transitions: []graph.Transition{{To: after(i), Condition: graph.Default()}},
		})
	}

	g.Add(&graph.Node{Name: graph.End, Finally: true})
	return nil
}

// resolveAction picks the action implementation for a step: the shell action
// for run:, the registry for uses:.
func (c *Compiler) resolveAction(doc *workflow.Document, path string, s *workflow.Step) (action.Action, error) {
	if s.Run != "" {
		return &action.ShellAction{}, nil
	}
	act, err := c.registry.Resolve(s.Uses)
	if err != nil {
		return nil, &Error{Message: err.Error(), Loc: doc.Locate(path)}
	}
	return act, nil
}

// prologue is the guard prefix shared by every node outside a loop body: an
// exit or a recorded workflow failure short-circuits to cleanup.
func prologue() []graph.Transition {
	return []graph.Transition{
		{To: graph.Cleanup, Condition: graph.WhenTrue(state.KeyWorkflowExit)},
		{To: graph.Cleanup, Condition: graph.WhenTrue(state.KeyWorkflowFailed)},
	}
}

// userTransitions builds the outgoing edges of a user-visible step node:
// exit and workflow failure route to cleanup, a failure with a declared
// handler routes to it, everything else continues to next.
func userTransitions(next, onFailure string) []graph.Transition {
	ts := prologue()
	if onFailure != "" {
		ts = append(ts, graph.Transition{
			To: onFailure,
			Condition: graph.Fn("step failed", func(st *state.State) bool {
				return st.String(state.KeyStepOutcome) == state.OutcomeFailure
			}),
		})
	}
	return append(ts, graph.Transition{To: next, Condition: graph.Default()})
}

// assignIDs fills in generated identifiers for id-less steps. The id folds
// the position and the step's selector so regenerated graphs stay stable for
// unchanged workflows.
func assignIDs(steps []*workflow.Step) {
	for i, s := range steps {
		if s.ID != "" {
			continue
		}
		h := xxhash.Sum64String(fmt.Sprintf("%d|%s|%s|%s", i, s.Name, s.Run, s.Uses))
		s.ID = fmt.Sprintf("step_%d_%08x", i, uint32(h))
	}
}
