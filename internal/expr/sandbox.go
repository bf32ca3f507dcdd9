package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUndefined marks a lookup that resolved to nothing: a missing state key,
// attribute, or index. Condition evaluation treats it as false; whole-string
// resolution surfaces it to the caller.
var ErrUndefined = errors.New("undefined value")

// ErrForbidden marks an expression rejected by the sandbox before parsing.
var ErrForbidden = errors.New("forbidden expression")

// IsUndefined reports whether err stems from an undefined lookup.
func IsUndefined(err error) bool {
	return errors.Is(err, ErrUndefined)
}

// undefined is the internal sentinel an unresolved lookup produces. It
// carries the dotted path for error messages and propagates through further
// attribute access without failing.
type undefined struct {
	path string
}

// forbiddenSubstrings are rejected anywhere in an expression. The set covers
// the introspection and process-escape vectors a template language must never
// expose, matching the validator's static scan.
var forbiddenSubstrings = []string{
	"__class__",
	"__mro__",
	"__subclasses__",
	"__globals__",
	"__builtins__",
	"__import__",
	"eval(",
	"exec(",
	"compile(",
	"open(",
	"os.",
	"sys.",
	"subprocess",
}

// ForbiddenSubstrings returns the sandbox's rejected-substring list. The
// validator shares it so static checks and runtime checks cannot drift.
func ForbiddenSubstrings() []string {
	out := make([]string, len(forbiddenSubstrings))
	copy(out, forbiddenSubstrings)
	return out
}

// CheckExpression rejects src when it contains a forbidden substring or has
// unbalanced brackets. Run before parsing on every evaluation and by the
// validator on every ${{ }} found in a workflow.
func CheckExpression(src string) error {
	lowered := strings.ToLower(src)
	for _, bad := range forbiddenSubstrings {
		if strings.Contains(lowered, bad) {
			return fmt.Errorf("%w: contains %q", ErrForbidden, bad)
		}
	}
	if err := CheckBalance(src); err != nil {
		return err
	}
	return nil
}

// CheckBalance verifies that (), [], and {} pair up in src, ignoring bracket
// characters inside string literals.
func CheckBalance(src string) error {
	var stack []rune
	var quote rune

	for _, r := range src {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 {
				return fmt.Errorf("unbalanced brackets: unexpected %q", r)
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !matches(open, r) {
				return fmt.Errorf("unbalanced brackets: %q closed by %q", open, r)
			}
		}
	}
	if quote != 0 {
		return fmt.Errorf("unterminated string literal")
	}
	if len(stack) > 0 {
		return fmt.Errorf("unbalanced brackets: %q never closed", stack[len(stack)-1])
	}
	return nil
}

func matches(open, close rune) bool {
	switch open {
	case '(':
		return close == ')'
	case '[':
		return close == ']'
	case '{':
		return close == '}'
	}
	return false
}
