// Package state defines the immutable workflow state value threaded through
// graph execution: a versioned key/value mapping with reserved control keys,
// the per-iteration loop frame, step outcomes, and input coercion.
package state

import (
	"maps"
	"strings"
)

// Reserved top-level state keys. The first group is data the engine maintains
// on behalf of the workflow; the second group is the control channel through
// which condition and loop nodes steer transition selection. None of these
// may ever appear in a step's recorded outputs.
const (
	KeyInputs = "inputs"
	KeyEnv    = "env"
	KeySteps  = "steps"
	KeyLoop   = "loop"

	KeyNext           = "__next"
	KeyConditionMet   = "__condition_met"
	KeyWorkflowExit   = "__workflow_exit"
	KeyWorkflowFailed = "__workflow_failed"
	KeyResumeData     = "__resume_data"
	KeyStepOutcome    = "__step_outcome"
	KeyStepError      = "__step_error"
)

// Reserved key prefixes. Any key carrying one of these prefixes is part of
// the engine's internal control namespace.
var reservedPrefixes = []string{"__loop_", "__cleanup_", "__suspend_"}

// reservedExact is the set of exactly-named reserved keys.
var reservedExact = map[string]struct{}{
	KeyNext:           {},
	KeyConditionMet:   {},
	KeyWorkflowExit:   {},
	KeyWorkflowFailed: {},
	KeyResumeData:     {},
	KeyStepOutcome:    {},
	KeyStepError:      {},
}

// controlKeys is the whitelist of control keys the runtime propagates from
// action outputs into top-level state. This is how control actions (exit,
// fail, break) and the internal condition node communicate with transition
// guards. Keys under the reserved prefixes are matched by prefix.
var controlKeys = map[string]struct{}{
	KeyNext:           {},
	KeyConditionMet:   {},
	KeyWorkflowExit:   {},
	KeyWorkflowFailed: {},
	KeyStepOutcome:    {},
	KeyStepError:      {},
}

// IsReserved reports whether key belongs to the reserved control namespace
// and therefore must never appear in user-visible step outputs.
func IsReserved(key string) bool {
	if _, ok := reservedExact[key]; ok {
		return true
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// IsControl reports whether key is on the control-key whitelist the runtime
// propagates from action outputs into top-level state.
func IsControl(key string) bool {
	if _, ok := controlKeys[key]; ok {
		return true
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// SanitizeOutputs returns a copy of outputs with every reserved key removed.
// Actions cannot smuggle control keys into recorded step results; the runtime
// calls this before writing steps[id].outputs.
func SanitizeOutputs(outputs map[string]any) map[string]any {
	clean := make(map[string]any, len(outputs))
	for k, v := range outputs {
		if IsReserved(k) {
			continue
		}
		clean[k] = v
	}
	return clean
}

// State is an immutable mapping from top-level keys to values. Every update
// produces a new State sharing unmodified entries with its predecessor, so a
// reader holding an older version observes a consistent snapshot without
// locking.
type State struct {
	data map[string]any
}

// New creates a State seeded with the entries of m. The map is copied; the
// caller retains ownership of m.
func New(m map[string]any) *State {
	data := make(map[string]any, len(m))
	maps.Copy(data, m)
	return &State{data: data}
}

// Get returns the value stored under key and whether it was present.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Bool returns the value under key interpreted as a bool. Missing keys and
// non-bool values report false.
func (s *State) Bool(key string) bool {
	v, ok := s.data[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// String returns the value under key as a string, or "" when absent or not
// a string.
func (s *State) String(key string) string {
	v, ok := s.data[key]
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Int returns the value under key as an int, or 0 when absent or not an
// integer-valued number.
func (s *State) Int(key string) int {
	switch v := s.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// With returns a new State with key set to value.
func (s *State) With(key string, value any) *State {
	data := make(map[string]any, len(s.data)+1)
	maps.Copy(data, s.data)
	data[key] = value
	return &State{data: data}
}

// WithAll returns a new State with every entry of updates applied. A nil
// value removes the key, which is how loop finalization clears control keys
// and restores an absent parent frame.
func (s *State) WithAll(updates map[string]any) *State {
	if len(updates) == 0 {
		return s
	}
	data := make(map[string]any, len(s.data)+len(updates))
	maps.Copy(data, s.data)
	for k, v := range updates {
		if v == nil {
			delete(data, k)
		} else {
			data[k] = v
		}
	}
	return &State{data: data}
}

// Without returns a new State with key removed.
func (s *State) Without(key string) *State {
	data := make(map[string]any, len(s.data))
	maps.Copy(data, s.data)
	delete(data, key)
	return &State{data: data}
}

// StepResult returns the recorded result map for step id, or nil when the
// step has not executed.
func (s *State) StepResult(id string) map[string]any {
	steps, ok := s.data[KeySteps].(map[string]any)
	if !ok {
		return nil
	}
	res, _ := steps[id].(map[string]any)
	return res
}

// WithStepResult returns a new State with steps[id] set to result. The steps
// map itself is copied so earlier versions remain untouched.
func (s *State) WithStepResult(id string, result map[string]any) *State {
	old, _ := s.data[KeySteps].(map[string]any)
	steps := make(map[string]any, len(old)+1)
	maps.Copy(steps, old)
	steps[id] = result
	return s.With(KeySteps, steps)
}

// Frame returns the current loop frame, or nil when execution is not inside
// a loop.
func (s *State) Frame() *Frame {
	f, _ := s.data[KeyLoop].(*Frame)
	return f
}

// Data returns the underlying mapping for expression evaluation and progress
// reporting. The returned map must be treated as read-only.
func (s *State) Data() map[string]any {
	return s.data
}

// Len returns the number of top-level keys.
func (s *State) Len() int {
	return len(s.data)
}
