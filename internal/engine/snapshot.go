package engine

import (
	"github.com/KareemHossam19/Stepwright/internal/graph"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Snapshot captures a run at a resumable point: the node to re-execute and
// the state as of the last recorded result. Snapshots from a suspension feed
// Resume; snapshots from the checkpoint hook let hosts observe progress.
//
// Snapshots reference the compiled graph, so they resume within the process
// that produced them. Hosts needing cross-process persistence store the
// workflow source plus Data and rebuild the run themselves.
type Snapshot struct {
	WorkflowName string
	RunID        string

	// Node is the graph node execution continues from.
	Node string

	// StepID is the user step that node belongs to.
	StepID string

	graph    *graph.Graph
	workflow *workflow.Workflow
	state    *state.State
}

// Data returns the snapshot's state mapping, read-only.
func (s *Snapshot) Data() map[string]any {
	if s.state == nil {
		return nil
	}
	return s.state.Data()
}

// StepResults returns the recorded step results at snapshot time.
func (s *Snapshot) StepResults() map[string]any {
	if s.state == nil {
		return nil
	}
	return stepsOf(s.state)
}
