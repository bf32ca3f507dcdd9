package engine

import "time"

// Event types emitted over the run's event channel, in execution order.
const (
	EventWorkflowStart   = "workflow_start"
	EventStepStart       = "step_start"
	EventStepOutput      = "step_output"
	EventStepEnd         = "step_end"
	EventIterationEnd    = "iteration_end"
	EventWorkflowSuspend = "workflow_suspend"
	EventWorkflowEnd     = "workflow_end"
)

// Event is one observation of run progress. Fields beyond Type and Time are
// populated per type: step events carry StepID and Outcome, output events
// carry Text, iteration events carry Iteration.
type Event struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Workflow string    `json:"workflow,omitempty"`
	RunID    string    `json:"run_id,omitempty"`

	StepID  string `json:"step_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// Iteration is the 0-based loop iteration for iteration_end events.
	Iteration int `json:"iteration,omitempty"`

	Text string `json:"text,omitempty"`

	// Status is the final run status on workflow_end events.
	Status string `json:"status,omitempty"`
}

// emit delivers ev to the configured channel without blocking. A slow or
// absent consumer drops events rather than stalling execution; the recorded
// run result is authoritative, events are advisory.
func (e *Engine) emit(ev Event) {
	if e.events == nil {
		return
	}
	ev.Time = time.Now()
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("event channel full, dropping event", "type", ev.Type, "step", ev.StepID)
	}
}
