package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KareemHossam19/Stepwright/internal/state"
)

func TestConditionHolds(t *testing.T) {
	st := state.New(map[string]any{
		"__condition_met": true,
		"__loop_done":     false,
		"mode":            "fast",
	})

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"nil default always holds", Default(), true},
		{"when true on true key", WhenTrue("__condition_met"), true},
		{"when true on false key", WhenTrue("__loop_done"), false},
		{"when true on missing key", WhenTrue("nope"), false},
		{"when false on false key", WhenFalse("__loop_done"), true},
		{"when false on missing key", WhenFalse("nope"), true},
		{"when false on true key", WhenFalse("__condition_met"), false},
		{"when equals match", WhenEquals("mode", "fast"), true},
		{"when equals mismatch", WhenEquals("mode", "slow"), false},
		{"when equals missing key", WhenEquals("absent", "x"), false},
		{"fn predicate", Fn("custom", func(st *state.State) bool { return st.String("mode") == "fast" }), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Holds(st))
		})
	}
}

func TestNodeNextFirstMatchWins(t *testing.T) {
	n := &Node{
		Name: "fetch",
		Transitions: []Transition{
			{To: "handle_error", Condition: WhenTrue("__workflow_failed")},
			{To: "process", Condition: Default()},
			{To: "never", Condition: Default()},
		},
	}

	assert.Equal(t, "process", n.Next(state.New(nil)))
	assert.Equal(t, "handle_error", n.Next(state.New(map[string]any{"__workflow_failed": true})))
}

func TestNodeNextNoMatch(t *testing.T) {
	n := &Node{
		Name:        "guarded",
		Transitions: []Transition{{To: "x", Condition: WhenTrue("go")}},
	}
	assert.Equal(t, "", n.Next(state.New(nil)))
}

func TestGraphAddAndLookup(t *testing.T) {
	g := New("wf")
	g.Add(&Node{Name: "a"})
	g.Add(&Node{Name: "b"})

	assert.True(t, g.Has("a"))
	assert.False(t, g.Has("c"))
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []string{"a", "b"}, g.Names())
	assert.Panics(t, func() { g.Add(&Node{Name: "a"}) })
}

func TestGraphValidate(t *testing.T) {
	valid := New("wf")
	valid.Entry = "start"
	valid.Add(&Node{Name: "start", Transitions: []Transition{{To: End}}})
	valid.Add(&Node{Name: End})
	require.NoError(t, valid.Validate())

	noEntry := New("wf")
	assert.ErrorContains(t, noEntry.Validate(), "no entry")

	badEntry := New("wf")
	badEntry.Entry = "missing"
	assert.ErrorContains(t, badEntry.Validate(), "does not exist")

	badTarget := New("wf")
	badTarget.Entry = "start"
	badTarget.Add(&Node{Name: "start", Transitions: []Transition{{To: "ghost"}}})
	assert.ErrorContains(t, badTarget.Validate(), "unknown node")

	deadEnd := New("wf")
	deadEnd.Entry = "start"
	deadEnd.Add(&Node{Name: "start"})
	assert.ErrorContains(t, deadEnd.Validate(), "no transitions")
}

func TestGraphDot(t *testing.T) {
	g := New("demo")
	g.Entry = "a"
	g.Add(&Node{Name: "a", Transitions: []Transition{
		{To: "b", Condition: WhenTrue("ok")},
		{To: End},
	}})
	g.Add(&Node{Name: "b", Internal: true, Transitions: []Transition{{To: End}}})
	g.Add(&Node{Name: End})

	dot := g.Dot()
	assert.Contains(t, dot, `digraph "demo"`)
	assert.Contains(t, dot, `"a" -> "b" [label="ok is true"]`)
	assert.Contains(t, dot, `"b" [shape=ellipse]`)
	assert.Contains(t, dot, `"__end__" [shape=doublecircle]`)
}
