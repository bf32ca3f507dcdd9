// Package graph defines the executable form a workflow compiles to: named
// nodes holding an action, connected by ordered guarded transitions. The
// runtime walks the graph one node at a time; at each node it executes the
// action, folds the result into state, then takes the first transition whose
// condition holds.
package graph

import (
	"fmt"
	"strings"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Terminal node names. Every path through a compiled graph ends at End, and
// reaches it through Cleanup.
const (
	Cleanup = workflow.NodeCleanup
	End     = workflow.NodeEnd
)

// Condition guards a transition. It is a named predicate over state so graphs
// can be rendered and debugged; Name is descriptive only.
type Condition struct {
	Name string
	Test func(st *state.State) bool
}

// Holds reports whether the condition passes for st. A nil condition is the
// unconditional default.
func (c *Condition) Holds(st *state.State) bool {
	if c == nil || c.Test == nil {
		return true
	}
	return c.Test(st)
}

// Default is the unconditional transition guard.
func Default() *Condition {
	return nil
}

// WhenTrue guards on a state key holding boolean true.
func WhenTrue(key string) *Condition {
	return &Condition{
		Name: key + " is true",
		Test: func(st *state.State) bool { return st.Bool(key) },
	}
}

// WhenFalse guards on a state key being absent, false, or non-boolean.
func WhenFalse(key string) *Condition {
	return &Condition{
		Name: key + " is false",
		Test: func(st *state.State) bool { return !st.Bool(key) },
	}
}

// WhenEquals guards on a state key holding exactly value.
func WhenEquals(key string, value any) *Condition {
	return &Condition{
		Name: fmt.Sprintf("%s == %v", key, value),
		Test: func(st *state.State) bool {
			v, ok := st.Get(key)
			return ok && v == value
		},
	}
}

// Fn wraps an arbitrary predicate under a descriptive name.
func Fn(name string, test func(st *state.State) bool) *Condition {
	return &Condition{Name: name, Test: test}
}

// Transition is a guarded edge to another node.
type Transition struct {
	To        string
	Condition *Condition
}

// Node is a unit of execution in the compiled graph.
type Node struct {
	// Name is the unique node identifier. For user steps it is the step id;
	// controller nodes carry suffixed names like "fetch_check".
	Name string

	// Action executes when the node runs. Terminal nodes may carry nil.
	Action action.Action

	// Step is the resolved step definition handed to the action. Controller
	// nodes synthesize a minimal step.
	Step *workflow.Step

	// StepID is the user-facing step this node belongs to. Several controller
	// nodes of one loop share a StepID.
	StepID string

	// Internal marks engine controller nodes (condition guards, loop
	// machinery, cleanup). Internal nodes may return trusted state Updates
	// and do not emit step events.
	Internal bool

	// LoopBody marks the body node of a loop expansion; the runtime records
	// per-iteration results instead of a single step result.
	LoopBody bool

	// Finally marks nodes compiled from the finally block. They run even
	// after failure, exit, or cancellation.
	Finally bool

	// Transitions are evaluated in order after the node's action completes;
	// the first holding condition is taken.
	Transitions []Transition
}

// Next returns the name of the first transition target whose condition holds
// for st, or "" when no transition applies.
func (n *Node) Next(st *state.State) string {
	for _, t := range n.Transitions {
		if t.Condition.Holds(st) {
			return t.To
		}
	}
	return ""
}

// Graph is a compiled workflow: a set of named nodes and the entry point.
type Graph struct {
	Name  string
	Entry string

	nodes map[string]*Node
	order []string
}

// New creates an empty graph for the named workflow.
func New(name string) *Graph {
	return &Graph{Name: name, nodes: make(map[string]*Node)}
}

// Add inserts a node. Duplicate names are a compiler bug and panic.
func (g *Graph) Add(n *Node) {
	if _, exists := g.nodes[n.Name]; exists {
		panic(fmt.Sprintf("graph: duplicate node %q", n.Name))
	}
	g.nodes[n.Name] = n
	g.order = append(g.order, n.Name)
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// Has reports whether the graph contains a node named name.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Len returns the node count.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Names returns node names in insertion order, which for compiled graphs is
// definition order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Validate checks structural integrity: the entry exists, every transition
// targets an existing node, and every non-terminal node can reach a
// transition. Compiled graphs always pass; this guards hand-built ones.
func (g *Graph) Validate() error {
	if g.Entry == "" {
		return fmt.Errorf("graph %q has no entry node", g.Name)
	}
	if !g.Has(g.Entry) {
		return fmt.Errorf("graph %q: entry node %q does not exist", g.Name, g.Entry)
	}
	for _, name := range g.order {
		n := g.nodes[name]
		for _, t := range n.Transitions {
			if !g.Has(t.To) {
				return fmt.Errorf("graph %q: node %q transitions to unknown node %q", g.Name, name, t.To)
			}
		}
		if len(n.Transitions) == 0 && name != End {
			return fmt.Errorf("graph %q: node %q has no transitions and is not terminal", g.Name, name)
		}
	}
	return nil
}

// Dot renders the graph in Graphviz dot format for the graph CLI command.
// Nodes appear in compilation order.
func (g *Graph) Dot() string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n  rankdir=TB;\n", g.Name)
	for _, name := range g.order {
		n := g.nodes[name]
		shape := "box"
		if n.Internal {
			shape = "ellipse"
		}
		if name == End || name == Cleanup {
			shape = "doublecircle"
		}
		fmt.Fprintf(&b, "  %q [shape=%s];\n", name, shape)
	}
	for _, name := range g.order {
		for _, t := range g.nodes[name].Transitions {
			label := ""
			if t.Condition != nil {
				label = t.Condition.Name
			}
			if label != "" {
				fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", name, t.To, label)
			} else {
				fmt.Fprintf(&b, "  %q -> %q;\n", name, t.To)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}
