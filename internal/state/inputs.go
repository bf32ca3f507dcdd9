package state

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/KareemHossam19/Stepwright/internal/jsonutil"
)

// InputSpec declares a single workflow input: its type, default, and
// optional constraints. Types mirror the YAML surface: string, number,
// integer, boolean, array, object.
type InputSpec struct {
	Type     string
	Default  any
	Required bool
	Enum     []any
	Pattern  string
}

// boolWords maps the accepted textual boolean spellings to their values.
var boolWords = map[string]bool{
	"true": true, "yes": true, "on": true, "1": true,
	"false": false, "no": false, "off": false, "0": false,
}

// CoerceInputs validates and converts the caller-supplied values against the
// declared input specs. Unknown inputs are rejected, missing required inputs
// are fatal, and declared defaults fill the gaps. The returned map is ready
// to be stored under the "inputs" state key.
func CoerceInputs(specs map[string]InputSpec, values map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(specs))

	for name := range values {
		if _, ok := specs[name]; !ok {
			return nil, fmt.Errorf("input %q is not declared by the workflow", name)
		}
	}

	for name, spec := range specs {
		raw, supplied := values[name]
		if !supplied {
			if spec.Required && spec.Default == nil {
				return nil, fmt.Errorf("required input %q was not supplied", name)
			}
			if spec.Default == nil {
				continue
			}
			raw = spec.Default
		}

		v, err := CoerceValue(raw, spec.Type)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}

		if err := checkConstraints(name, v, spec); err != nil {
			return nil, err
		}
		coerced[name] = v
	}

	return coerced, nil
}

// CoerceValue converts raw to the declared input type. String inputs accept
// JSON text for array and object types; booleans accept the usual word set;
// integer rejects fractional floats.
func CoerceValue(raw any, typ string) (any, error) {
	switch typ {
	case "", "string":
		switch v := raw.(type) {
		case string:
			return v, nil
		case bool:
			return strconv.FormatBool(v), nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case uint64:
			return strconv.FormatUint(v, 10), nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to string", raw)
		}

	case "number":
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case uint64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to number", raw)
		}

	case "integer":
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case uint64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v has a fractional part; integer required", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to integer", raw)
		}

	case "boolean":
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, ok := boolWords[strings.ToLower(strings.TrimSpace(v))]
			if !ok {
				return nil, fmt.Errorf("%q is not a boolean", v)
			}
			return b, nil
		case int:
			return v != 0, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to boolean", raw)
		}

	case "array":
		switch v := raw.(type) {
		case []any:
			return v, nil
		case string:
			var out []any
			if err := jsonutil.Decode(v, &out); err != nil {
				return nil, fmt.Errorf("%q is not a JSON array: %w", v, err)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to array", raw)
		}

	case "object":
		switch v := raw.(type) {
		case map[string]any:
			return v, nil
		case string:
			var out map[string]any
			if err := jsonutil.Decode(v, &out); err != nil {
				return nil, fmt.Errorf("%q is not a JSON object: %w", v, err)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to object", raw)
		}

	default:
		return nil, fmt.Errorf("unknown input type %q", typ)
	}
}

// checkConstraints applies enum and pattern constraints after coercion.
func checkConstraints(name string, v any, spec InputSpec) error {
	if len(spec.Enum) > 0 {
		found := false
		for _, allowed := range spec.Enum {
			if equalValue(v, allowed) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("input %q: value %v is not in the allowed set %v", name, v, spec.Enum)
		}
	}

	if spec.Pattern != "" {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("input %q: pattern constraint requires a string value", name)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return fmt.Errorf("input %q: invalid pattern %q: %w", name, spec.Pattern, err)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("input %q: value %q does not match pattern %q", name, s, spec.Pattern)
		}
	}

	return nil
}

// equalValue compares enum members loosely across the numeric types YAML
// decoding can produce.
func equalValue(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
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
