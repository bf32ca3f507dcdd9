// Package action defines the engine's sole extension point: the Action
// interface, the result and suspension types actions return, the execution
// context of host-provided capabilities, and the registry that resolves
// action names at compile time.
//
// The built-in set covers inline shell commands, flow-control actions (exit,
// fail, break, set), and human input. Everything else (HTTP, LLM, notify,
// ...) is expected to be registered by the host.
package action

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Error-type tags actions attach to failures. Retry's retry_on matches
// against these.
const (
	ErrTypeSubprocess = "subprocess"
	ErrTypeTimeout    = "timeout"
	ErrTypeNetwork    = "network"
	ErrTypeSchema     = "schema"
	ErrTypeExpression = "expression"
	ErrTypeSecurity   = "security"
)

// Action is the interface every step implementation satisfies. The step
// passed to Execute has its run string and with map already
// expression-resolved; the state view is read-only.
type Action interface {
	// Reads lists the top-level state keys the action consumes.
	Reads() []string

	// Writes lists the top-level state keys the action produces.
	Writes() []string

	// Execute runs the action. It must respect context cancellation and may
	// block or suspend. A returned error is an exception: it aborts the
	// workflow unless the step opted into continue_on_error. Expected
	// failures are reported through Result.Outcome instead.
	Execute(ctx context.Context, step *workflow.Step, st *state.State, ec *ExecContext) (*Result, error)
}

// Result is what an action execution produces.
type Result struct {
	// Outputs are the user-visible step outputs. Reserved keys are stripped
	// before recording; whitelisted control keys are propagated into
	// top-level state, which is how control actions steer transitions.
	Outputs map[string]any

	// Outcome is one of the state.Outcome* constants. Empty means success.
	Outcome string

	// Error and ErrorType describe a failure outcome.
	Error     string
	ErrorType string

	// Reason notes why a non-failure outcome happened, e.g. why a step was
	// skipped. It rides on the step-end event and never enters outputs.
	Reason string

	// NextHint names a node the action asks to run next; the runtime writes
	// it to __next for guard evaluation.
	NextHint string

	// Suspension carries the human-input request when Outcome is suspended.
	Suspension *Suspension

	// Updates are trusted top-level state writes, honored only for the
	// engine's internal controller nodes (condition, loop, cleanup). A nil
	// value deletes the key. User actions must use Outputs.
	Updates map[string]any
}

// Suspension describes a request for caller-supplied input. The runtime
// surfaces it and halts; on resume the payload lands in
// __resume_data[step_id] and the same action runs again.
type Suspension struct {
	StepID  string   `json:"step_id"`
	Prompt  string   `json:"prompt"`
	Type    string   `json:"type"` // text, confirm, menu
	Options []string `json:"options,omitempty"`
	Default string   `json:"default,omitempty"`

	// Timeout in seconds; zero waits indefinitely.
	Timeout float64 `json:"timeout,omitempty"`
}

// CommandSpec describes a shell command an action asks the host to run.
type CommandSpec struct {
	Command string
	Dir     string
	Env     map[string]string
}

// CommandResult is the host's answer to a CommandSpec.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecContext is the set of host-provided capabilities available to an
// action. Every capability field may be nil; actions degrade gracefully
// when one is absent.
type ExecContext struct {
	WorkflowName string
	RunID        string
	WorkDir      string

	// Env is the environment snapshot for subprocesses.
	Env map[string]string

	// ResultDir receives files produced by capture_mode=file and loop
	// result storage. Empty falls back to the system temp directory.
	ResultDir string

	// ResumeData is the caller-supplied payload when the current step is
	// being re-invoked after a suspension, nil otherwise.
	ResumeData map[string]any

	Logger *log.Logger

	// RunCommand executes a shell command on the host's terms. When nil the
	// shell action falls back to direct execution.
	RunCommand func(ctx context.Context, spec CommandSpec) (CommandResult, error)

	// Prompt asks the user a question synchronously. Used by hosts that can
	// answer suspensions inline instead of round-tripping them.
	Prompt func(ctx context.Context, s Suspension) (string, error)

	// EmitText streams a chunk of action output to observers between
	// step_start and step_end.
	EmitText func(text string)
}

// Log writes a structured log line when a logger is attached.
func (ec *ExecContext) Log(msg string, kvs ...any) {
	if ec == nil || ec.Logger == nil {
		return
	}
	ec.Logger.Info(msg, kvs...)
}

// Success builds a plain success result with the given outputs.
func Success(outputs map[string]any) *Result {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return &Result{Outputs: outputs, Outcome: state.OutcomeSuccess}
}

// Failure builds a failure result with a message and error-type tag.
func Failure(msg, errType string) *Result {
	return &Result{
		Outputs:   map[string]any{},
		Outcome:   state.OutcomeFailure,
		Error:     msg,
		ErrorType: errType,
	}
}
