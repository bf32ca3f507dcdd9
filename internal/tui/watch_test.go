package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KareemHossam19/Stepwright/internal/engine"
	"github.com/KareemHossam19/Stepwright/internal/state"
)

func TestModelApply(t *testing.T) {
	m := newModel("deploy")

	m.apply(engine.Event{Type: engine.EventStepStart, StepID: "build", Name: "Build"})
	require.Len(t, m.steps, 1)
	assert.Equal(t, "", m.steps[0].outcome)

	m.apply(engine.Event{Type: engine.EventStepEnd, StepID: "build", Outcome: state.OutcomeSuccess})
	assert.Equal(t, state.OutcomeSuccess, m.steps[0].outcome)

	// A loop step re-entering goes back to running and records the iteration.
	m.apply(engine.Event{Type: engine.EventStepStart, StepID: "scan"})
	m.apply(engine.Event{Type: engine.EventStepEnd, StepID: "scan", Outcome: state.OutcomeSuccess})
	m.apply(engine.Event{Type: engine.EventIterationEnd, StepID: "scan", Iteration: 0})
	m.apply(engine.Event{Type: engine.EventStepStart, StepID: "scan"})
	require.Len(t, m.steps, 2)
	assert.Equal(t, "", m.steps[1].outcome)
	assert.Equal(t, 1, m.steps[1].iteration)

	m.apply(engine.Event{Type: engine.EventWorkflowEnd, Status: engine.StatusCompleted})
	assert.Equal(t, engine.StatusCompleted, m.status)
}

func TestModelApplyEndWithoutStart(t *testing.T) {
	m := newModel("deploy")
	m.apply(engine.Event{Type: engine.EventStepEnd, StepID: "ghost", Outcome: state.OutcomeFailure, Error: "boom"})
	require.Len(t, m.steps, 1)
	assert.Equal(t, state.OutcomeFailure, m.steps[0].outcome)
	assert.Equal(t, "boom", m.steps[0].err)
}

func TestView(t *testing.T) {
	m := newModel("deploy")
	m.apply(engine.Event{Type: engine.EventStepStart, StepID: "build", Name: "Build"})
	m.apply(engine.Event{Type: engine.EventStepEnd, StepID: "build", Outcome: state.OutcomeSuccess})
	m.apply(engine.Event{Type: engine.EventStepStart, StepID: "lint"})
	m.apply(engine.Event{Type: engine.EventStepEnd, StepID: "lint", Outcome: state.OutcomeSkipped})

	out := m.View()
	assert.Contains(t, out, "deploy")
	assert.Contains(t, out, "Build (build)")
	assert.Contains(t, out, "lint")
	assert.Contains(t, out, "q to detach")

	m.apply(engine.Event{Type: engine.EventWorkflowEnd, Status: engine.StatusFailed})
	out = m.View()
	assert.Contains(t, out, "run failed")
}
