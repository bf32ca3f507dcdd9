// Package expr implements the sandboxed ${{ ... }} expression language used
// throughout workflow definitions. It is a bespoke interpreter (lexer, parser,
// tree-walking evaluator) with a fixed grammar and a whitelisted filter set;
// it never delegates to a host-language eval facility.
//
// Values resolve natively: a list stays a list and an integer stays an
// integer. Only embedded interpolation inside a larger string stringifies.
package expr

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// exprPattern matches a single ${{ ... }} occurrence. The inner expression is
// captured in group 1. (?s) lets expressions span lines inside block scalars.
var exprPattern = regexp.MustCompile(`(?s)\$\{\{(.*?)\}\}`)

// wholePattern matches a string that consists of exactly one expression with
// nothing but whitespace around it. Such strings resolve to native values.
var wholePattern = regexp.MustCompile(`(?s)^\s*\$\{\{(.*?)\}\}\s*$`)

// Evaluator resolves expressions against a state mapping. The zero value is
// not usable; construct with New.
type Evaluator struct {
	workspaceRoot string
	blocklist     []string
	now           func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithWorkspaceRoot sets the root directory the safe_path filter confines
// paths to. An empty root disables safe_path (the filter then errors).
func WithWorkspaceRoot(root string) Option {
	return func(e *Evaluator) { e.workspaceRoot = root }
}

// WithBlocklist overrides the sensitive-path glob patterns safe_path rejects.
func WithBlocklist(patterns []string) Option {
	return func(e *Evaluator) { e.blocklist = patterns }
}

// WithNow overrides the clock behind the now() helper. Used in tests.
func WithNow(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an Evaluator with the default sensitive-path blocklist.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		blocklist: DefaultBlocklist(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eval parses and evaluates a single expression (without the ${{ }} wrapper)
// against data and returns its native value. Missing lookups return an error
// wrapping ErrUndefined so callers can distinguish absence from hard failures.
func (e *Evaluator) Eval(src string, data map[string]any) (any, error) {
	if err := CheckExpression(src); err != nil {
		return nil, err
	}
	node, err := parse(src)
	if err != nil {
		return nil, err
	}
	v, err := e.eval(node, data)
	if err != nil {
		return nil, err
	}
	if u, ok := v.(undefined); ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefined, u.path)
	}
	return v, nil
}

// EvalCondition evaluates src as a condition. src may be a bare expression
// or carry the ${{ }} wrapper the way if: and break_if: fields do in
// workflow files. Undefined values and lookup failures count as false; only
// hard errors (syntax, security) are returned.
func (e *Evaluator) EvalCondition(src string, data map[string]any) (bool, error) {
	if m := wholePattern.FindStringSubmatch(src); m != nil {
		src = m[1]
	} else if strings.Contains(src, "${{") {
		// a condition mixing literal text and expressions resolves to a
		// string, judged by the truth table
		v, err := e.ResolveString(src, data)
		if err != nil {
			return false, err
		}
		return Truthy(v), nil
	}
	if err := CheckExpression(src); err != nil {
		return false, err
	}
	node, err := parse(src)
	if err != nil {
		return false, err
	}
	v, err := e.eval(node, data)
	if err != nil {
		if IsUndefined(err) {
			return false, nil
		}
		return false, err
	}
	return Truthy(v), nil
}

// ResolveString resolves every ${{ }} occurrence in s. A string that is
// exactly one expression returns the evaluated native value and propagates
// evaluation errors. Embedded expressions are substituted as strings; an
// embedded failure degrades to the empty string.
func (e *Evaluator) ResolveString(s string, data map[string]any) (any, error) {
	if m := wholePattern.FindStringSubmatch(s); m != nil {
		return e.Eval(m[1], data)
	}
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	out := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := exprPattern.FindStringSubmatch(match)[1]
		v, err := e.Eval(inner, data)
		if err != nil {
			return ""
		}
		return Stringify(v)
	})
	return out, nil
}

// ResolveAll recursively resolves expressions inside strings, maps, and
// sequences, returning a new value with the same shape.
func (e *Evaluator) ResolveAll(v any, data map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return e.ResolveString(t, data)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			r, err := e.ResolveAll(val, data)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			r, err := e.ResolveAll(val, data)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// Scan returns the inner text of every ${{ }} expression found in s, in
// order of appearance. Used by the validator's static checks.
func Scan(s string) []string {
	var out []string
	for _, m := range exprPattern.FindAllStringSubmatch(s, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// Truthy implements the condition truth table: empty string, empty
// collection, false, "false", "0", "no", "none", nil, and undefined are
// false; everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case undefined:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "", "false", "0", "no", "none":
			return false
		}
		return true
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
