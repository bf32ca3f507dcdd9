package state

// Step outcome constants name the terminal status of a single step. String
// values are used (not iota) so they round-trip cleanly through recorded
// step results and checkpoint snapshots.
const (
	// OutcomeSuccess indicates the step completed without error.
	OutcomeSuccess = "success"

	// OutcomeFailure indicates the step's action reported an error.
	OutcomeFailure = "failure"

	// OutcomeSkipped indicates the step's if condition evaluated false and
	// the body never ran.
	OutcomeSkipped = "skipped"

	// OutcomeSuspended indicates the step paused awaiting caller-supplied
	// input (human-in-the-loop).
	OutcomeSuspended = "suspended"

	// OutcomePartial indicates a loop that finished with some iteration
	// errors recorded under continue_on_error.
	OutcomePartial = "partial"

	// OutcomeBreak indicates a loop that exited early via break_if or a
	// break control action.
	OutcomeBreak = "break"
)

// ValidOutcome reports whether s is one of the defined step outcomes.
func ValidOutcome(s string) bool {
	switch s {
	case OutcomeSuccess, OutcomeFailure, OutcomeSkipped, OutcomeSuspended, OutcomePartial, OutcomeBreak:
		return true
	}
	return false
}
