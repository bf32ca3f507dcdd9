package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// attrer is implemented by values that expose named attributes to the
// evaluator, such as the loop frame. The interface is matched structurally
// so this package needs no knowledge of the implementing types.
type attrer interface {
	Attr(name string) (any, bool)
}

// eval walks the AST against data.
func (e *Evaluator) eval(n node, data map[string]any) (any, error) {
	switch t := n.(type) {
	case litNode:
		return t.value, nil

	case identNode:
		v, ok := data[t.name]
		if !ok {
			return undefined{path: t.name}, nil
		}
		return v, nil

	case listNode:
		items := make([]any, len(t.items))
		for i, item := range t.items {
			v, err := e.eval(item, data)
			if err != nil {
				return nil, err
			}
			if u, ok := v.(undefined); ok {
				return nil, fmt.Errorf("%w: %s", ErrUndefined, u.path)
			}
			items[i] = v
		}
		return items, nil

	case attrNode:
		recv, err := e.eval(t.recv, data)
		if err != nil {
			return nil, err
		}
		return attr(recv, t.name), nil

	case indexNode:
		recv, err := e.eval(t.recv, data)
		if err != nil {
			return nil, err
		}
		idx, err := e.eval(t.index, data)
		if err != nil {
			return nil, err
		}
		return index(recv, idx)

	case callNode:
		return e.call(t, data)

	case unaryNode:
		operand, err := e.eval(t.operand, data)
		if err != nil {
			return nil, err
		}
		switch t.op {
		case "not":
			return !Truthy(operand), nil
		case "-":
			return negate(operand)
		}
		return nil, fmt.Errorf("unknown unary operator %q", t.op)

	case binaryNode:
		return e.binary(t, data)

	case filterNode:
		recv, err := e.eval(t.recv, data)
		if err != nil {
			return nil, err
		}
		args := make([]any, len(t.args))
		for i, a := range t.args {
			v, err := e.eval(a, data)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return e.applyFilter(t.name, recv, args)

	default:
		return nil, fmt.Errorf("unknown expression node %T", n)
	}
}

// binary evaluates a binary operator with short-circuiting for and/or.
func (e *Evaluator) binary(n binaryNode, data map[string]any) (any, error) {
	if n.op == "and" || n.op == "or" {
		lhs, err := e.eval(n.lhs, data)
		if err != nil {
			return nil, err
		}
		lt := Truthy(lhs)
		if n.op == "and" && !lt {
			return false, nil
		}
		if n.op == "or" && lt {
			return true, nil
		}
		rhs, err := e.eval(n.rhs, data)
		if err != nil {
			return nil, err
		}
		return Truthy(rhs), nil
	}

	lhs, err := e.eval(n.lhs, data)
	if err != nil {
		return nil, err
	}
	rhs, err := e.eval(n.rhs, data)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return Equal(lhs, rhs), nil
	case "!=":
		return !Equal(lhs, rhs), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, lhs, rhs)
	case "in":
		return contains(rhs, lhs)
	case "not in":
		in, err := contains(rhs, lhs)
		if err != nil {
			return nil, err
		}
		return !in, nil
	case "+", "-", "*", "/", "%":
		return arithmetic(n.op, lhs, rhs)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

// call dispatches the whitelisted helper functions.
func (e *Evaluator) call(n callNode, data map[string]any) (any, error) {
	switch n.name {
	case "now":
		if len(n.args) != 0 {
			return nil, fmt.Errorf("now() takes no arguments")
		}
		return e.now().UTC().Format(time.RFC3339), nil
	}
	return nil, fmt.Errorf("%w: call to %q is not permitted", ErrForbidden, n.name)
}

// attr resolves a named attribute on recv. Missing attributes and undefined
// receivers propagate the undefined sentinel rather than failing, so deep
// paths into absent state degrade gracefully.
func attr(recv any, name string) any {
	switch r := recv.(type) {
	case undefined:
		return undefined{path: r.path + "." + name}
	case map[string]any:
		v, ok := r[name]
		if !ok {
			return undefined{path: name}
		}
		return v
	case attrer:
		v, ok := r.Attr(name)
		if !ok {
			return undefined{path: name}
		}
		return v
	case nil:
		return undefined{path: name}
	default:
		return undefined{path: name}
	}
}

// index resolves recv[idx] for lists (ints, negatives count from the end)
// and maps (string keys).
func index(recv, idx any) (any, error) {
	if u, ok := recv.(undefined); ok {
		return undefined{path: u.path + "[...]"}, nil
	}
	switch r := recv.(type) {
	case []any:
		i, ok := toInt(idx)
		if !ok {
			return nil, fmt.Errorf("list index must be an integer, got %T", idx)
		}
		if i < 0 {
			i += len(r)
		}
		if i < 0 || i >= len(r) {
			return undefined{path: fmt.Sprintf("[%d]", i)}, nil
		}
		return r[i], nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, fmt.Errorf("map key must be a string, got %T", idx)
		}
		v, ok := r[key]
		if !ok {
			return undefined{path: key}, nil
		}
		return v, nil
	case string:
		i, ok := toInt(idx)
		if !ok {
			return nil, fmt.Errorf("string index must be an integer, got %T", idx)
		}
		runes := []rune(r)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return undefined{path: fmt.Sprintf("[%d]", i)}, nil
		}
		return string(runes[i]), nil
	default:
		return nil, fmt.Errorf("cannot index %T", recv)
	}
}

// Equal compares two native values, unifying the numeric types YAML and JSON
// decoding produce. Undefined equals only nil and undefined.
func Equal(a, b any) bool {
	if _, ok := a.(undefined); ok {
		_, ub := b.(undefined)
		return b == nil || ub
	}
	if _, ok := b.(undefined); ok {
		return a == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func compare(op string, a, b any) (any, error) {
	if _, ok := a.(undefined); ok {
		return false, nil
	}
	if _, ok := b.(undefined); ok {
		return false, nil
	}

	if as, aok := a.(string); aok {
		bs, bok := b.(string)
		if !bok {
			return nil, fmt.Errorf("cannot compare string with %T", b)
		}
		switch op {
		case "<":
			return as < bs, nil
		case "<=":
			return as <= bs, nil
		case ">":
			return as > bs, nil
		case ">=":
			return as >= bs, nil
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot compare %T with %T", a, b)
	}
	switch op {
	case "<":
		return af < bf, nil
	case "<=":
		return af <= bf, nil
	case ">":
		return af > bf, nil
	case ">=":
		return af >= bf, nil
	}
	return nil, fmt.Errorf("unknown comparison %q", op)
}

// contains implements the "in" operator for lists, maps, and strings.
func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case undefined:
		return false, nil
	case []any:
		for _, v := range c {
			if Equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := c[key]
		return found, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in' on a string requires a string operand, got %T", item)
		}
		return strings.Contains(c, s), nil
	default:
		return false, fmt.Errorf("'in' requires a list, map, or string, got %T", container)
	}
}

func arithmetic(op string, a, b any) (any, error) {
	if _, ok := a.(undefined); ok {
		return nil, fmt.Errorf("%w in arithmetic", ErrUndefined)
	}
	if _, ok := b.(undefined); ok {
		return nil, fmt.Errorf("%w in arithmetic", ErrUndefined)
	}

	// String concatenation.
	if op == "+" {
		if as, ok := a.(string); ok {
			if bs, ok := b.(string); ok {
				return as + bs, nil
			}
		}
		// List concatenation.
		if al, ok := a.([]any); ok {
			if bl, ok := b.([]any); ok {
				out := make([]any, 0, len(al)+len(bl))
				out = append(out, al...)
				out = append(out, bl...)
				return out, nil
			}
		}
	}

	ai, aIsInt := toInt(a)
	bi, bIsInt := toInt(b)
	if aIsInt && bIsInt && op != "/" {
		switch op {
		case "+":
			return ai + bi, nil
		case "-":
			return ai - bi, nil
		case "*":
			return ai * bi, nil
		case "%":
			if bi == 0 {
				return nil, fmt.Errorf("modulo by zero")
			}
			return ai % bi, nil
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot apply %q to %T and %T", op, a, b)
	}
	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return af / bf, nil
	case "%":
		if bf == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return float64(int64(af) % int64(bf)), nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func negate(v any) (any, error) {
	if i, ok := toInt(v); ok {
		return -i, nil
	}
	if f, ok := toFloat(v); ok {
		return -f, nil
	}
	return nil, fmt.Errorf("cannot negate %T", v)
}

// Stringify renders a native value for embedded interpolation. Collections
// render as compact JSON; nil and undefined render empty.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case undefined:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

