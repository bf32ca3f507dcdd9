// Package workflow defines the YAML workflow surface: the definition types,
// a parser that retains per-node source locations, and the static validator
// run before compilation.
package workflow

import (
	"fmt"
	"time"
)

// SupportedSchemaVersions is the set of schema_version values this engine
// accepts.
var SupportedSchemaVersions = map[string]struct{}{
	"1.0": {},
}

// Reserved step identifiers and prefixes. Step ids may not collide with the
// synthetic terminal nodes, the reserved state keys, or the internal
// namespace prefixes.
const (
	NodeCleanup = "__cleanup__"
	NodeEnd     = "__end__"

	maxStepIDLength = 64
)

// Workflow is the top-level parsed definition.
type Workflow struct {
	SchemaVersion string            `yaml:"schema_version"`
	Name          string            `yaml:"name"`
	Inputs        map[string]Input  `yaml:"inputs"`
	Env           map[string]string `yaml:"env"`
	Jobs          map[string]Job    `yaml:"jobs"`
	Finally       []*Step           `yaml:"finally"`

	// LLM carries action-specific defaults the engine passes through to
	// actions untouched.
	LLM map[string]any `yaml:"llm"`
}

// Job groups an ordered sequence of steps. Only the "main" job is executed.
type Job struct {
	Steps []*Step `yaml:"steps"`
}

// Input declares a typed workflow input with optional constraints.
type Input struct {
	Type     string `yaml:"type"`
	Default  any    `yaml:"default"`
	Required bool   `yaml:"required"`
	Enum     []any  `yaml:"enum"`
	Pattern  string `yaml:"pattern"`
}

// Step is a single unit of work. Exactly one of Run (inline shell command)
// or Uses (named action) selects the action; the remaining fields are
// modifiers.
type Step struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	Run  string         `yaml:"run"`
	Uses string         `yaml:"uses"`
	With map[string]any `yaml:"with"`

	If   string `yaml:"if"`
	Loop any    `yaml:"loop"`

	BreakIf          string `yaml:"break_if"`
	MaxIterations    int    `yaml:"max_iterations"`
	MaxResults       int    `yaml:"max_results"`
	MaxErrors        int    `yaml:"max_errors"`
	ContinueOnError  bool   `yaml:"continue_on_error"`
	AggregateResults *bool  `yaml:"aggregate_results"`
	ResultStorage    string `yaml:"result_storage"`

	OnFailure string   `yaml:"on_failure"`
	Needs     []string `yaml:"needs"`
	Retry     *Retry   `yaml:"retry"`

	// Timeout is the per-step limit in seconds. Zero means unlimited.
	Timeout float64 `yaml:"timeout"`

	// Guardrails are parsed and handed to actions as-is; the engine does
	// not interpret them.
	Guardrails []map[string]any `yaml:"guardrails"`

	// CaptureMode selects where shell output lands: "state" (default) or
	// "file" for large outputs.
	CaptureMode string `yaml:"capture_mode"`
}

// Retry configures automatic re-execution of a failing step with
// exponential backoff.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Delay       float64  `yaml:"delay"`      // base delay, seconds
	Multiplier  float64  `yaml:"multiplier"` // backoff factor, default 2
	MaxDelay    float64  `yaml:"max_delay"`  // cap, seconds; 0 = uncapped
	Jitter      bool     `yaml:"jitter"`
	RetryOn     []string `yaml:"retry_on"` // error kinds; empty = all
}

// HasLoop reports whether the step declares a loop modifier.
func (s *Step) HasLoop() bool {
	return s.Loop != nil
}

// IsInfiniteLoop reports whether the loop iterates unboundedly (loop: true),
// terminating only via break_if, a break action, or max_iterations.
func (s *Step) IsInfiniteLoop() bool {
	b, ok := s.Loop.(bool)
	return ok && b
}

// Aggregate reports whether loop iteration results should be aggregated.
// Defaults to true when the field is omitted.
func (s *Step) Aggregate() bool {
	if s.AggregateResults == nil {
		return true
	}
	return *s.AggregateResults
}

// TimeoutDuration converts the step timeout to a time.Duration; zero when
// unset.
func (s *Step) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout * float64(time.Second))
}

// MainSteps returns the steps of the main job.
func (w *Workflow) MainSteps() []*Step {
	return w.Jobs["main"].Steps
}

// Location is a position in the source YAML file. Zero Line means unknown.
type Location struct {
	File   string
	Line   int
	Column int
}

// String formats the location as FILE:LINE:COL. Without a known line only
// the file is printed; a nil or zero location formats empty.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Line == 0 {
		return l.File
	}
	file := l.File
	if file == "" {
		file = "<input>"
	}
	return fmt.Sprintf("%s:%d:%d", file, l.Line, l.Column)
}
