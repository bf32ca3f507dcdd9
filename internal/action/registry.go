package action

import (
	"errors"
	"fmt"
	"sort"
)

// ErrActionNotFound is returned by Registry.Resolve when no factory is
// registered for the requested action name.
var ErrActionNotFound = errors.New("action not found")

// Factory constructs a fresh Action instance. Factories run once per
// compilation, so actions may carry per-node state.
type Factory func() Action

// Registry maps action names to their factories. The compiler resolves every
// uses: selector through a Registry; unknown names fail with a
// nearest-neighbour suggestion. Registration happens at program
// initialization (single-threaded), so no mutex is needed.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a registry pre-loaded with the engine's built-in actions:
// shell, exit, fail, break, set, and input.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("shell", func() Action { return &ShellAction{} })
	r.Register("exit", func() Action { return &ExitAction{} })
	r.Register("fail", func() Action { return &FailAction{} })
	r.Register("break", func() Action { return &BreakAction{} })
	r.Register("set", func() Action { return &SetAction{} })
	r.Register("input", func() Action { return &InputAction{} })
	return r
}

// Register adds a factory under name. It panics on a nil factory, an empty
// name, or a duplicate registration; these are programming errors that
// should surface at startup.
func (r *Registry) Register(name string, factory Factory) {
	if factory == nil {
		panic("action: Register called with nil factory")
	}
	if name == "" {
		panic("action: Register called with empty name")
	}
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("action: %q is already registered", name))
	}
	r.factories[name] = factory
}

// Resolve instantiates the action registered under name. Unknown names
// return ErrActionNotFound wrapped with a did-you-mean suggestion when a
// registered name is within edit distance 3.
func (r *Registry) Resolve(name string) (Action, error) {
	factory, ok := r.factories[name]
	if !ok {
		if suggestion := r.nearest(name); suggestion != "" {
			return nil, fmt.Errorf("action %q: %w (did you mean %q?)", name, ErrActionNotFound, suggestion)
		}
		return nil, fmt.Errorf("action %q: %w", name, ErrActionNotFound)
	}
	return factory(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// List returns all registered action names in alphabetical order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nearest returns the registered name closest to name within edit distance
// 3, or "" when nothing is close enough.
func (r *Registry) nearest(name string) string {
	best := ""
	bestDist := 4
	for _, candidate := range r.List() {
		if d := editDistance(name, candidate); d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	return best
}

// editDistance computes the Levenshtein distance between a and b using a
// single-row rolling buffer.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(rb); j++ {
			insert := row[j-1] + 1
			remove := row[j] + 1
			replace := prev
			if ra[i-1] != rb[j-1] {
				replace++
			}
			prev = row[j]
			row[j] = min(insert, min(remove, replace))
		}
	}
	return row[len(rb)]
}
