package expr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// filterFunc applies a filter to recv with the given arguments.
type filterFunc func(e *Evaluator, recv any, args []any) (any, error)

// filters is the complete whitelist. Anything not in this table is rejected
// with an "unknown filter" error.
var filters = map[string]filterFunc{
	"upper":         filterUpper,
	"lower":         filterLower,
	"trim":          filterTrim,
	"replace":       filterReplace,
	"split":         filterSplit,
	"join":          filterJoin,
	"default":       filterDefault,
	"length":        filterLength,
	"first":         filterFirst,
	"last":          filterLast,
	"keys":          filterKeys,
	"values":        filterValues,
	"unique":        filterUnique,
	"sort":          filterSort,
	"reverse":       filterReverse,
	"sum":           filterSum,
	"min":           filterMin,
	"max":           filterMax,
	"abs":           filterAbs,
	"round":         filterRound,
	"int":           filterInt,
	"float":         filterFloat,
	"string":        filterString,
	"bool":          filterBool,
	"json":          filterJSON,
	"from_json":     filterFromJSON,
	"b64encode":     filterB64Encode,
	"b64decode":     filterB64Decode,
	"urlencode":     filterURLEncode,
	"regex_match":   filterRegexMatch,
	"regex_replace": filterRegexReplace,
	"is_ip":         filterIsIP,
	"is_url":        filterIsURL,
	"file_exists":   filterFileExists,
	"shell_quote":   filterShellQuote,
	"safe_path":     filterSafePath,
}

// applyFilter dispatches a filter by name. Undefined receivers short-circuit
// for every filter except default, which exists precisely to replace them.
func (e *Evaluator) applyFilter(name string, recv any, args []any) (any, error) {
	fn, ok := filters[name]
	if !ok {
		return nil, fmt.Errorf("unknown filter %q", name)
	}
	if _, isUndef := recv.(undefined); isUndef && name != "default" {
		return undefined{path: "| " + name}, nil
	}
	v, err := fn(e, recv, args)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", name, err)
	}
	return v, nil
}

func wantArgs(args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}

func asList(v any) ([]any, error) {
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	return l, nil
}

func filterUpper(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func filterLower(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func filterTrim(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func filterReplace(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 2); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	old, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	repl, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(s, old, repl), nil
}

func filterSplit(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 1); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	sep, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func filterJoin(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 1); err != nil {
		return nil, err
	}
	l, err := asList(recv)
	if err != nil {
		return nil, err
	}
	sep, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = Stringify(v)
	}
	return strings.Join(parts, sep), nil
}

func filterDefault(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 1); err != nil {
		return nil, err
	}
	switch t := recv.(type) {
	case undefined:
		return args[0], nil
	case nil:
		return args[0], nil
	case string:
		if t == "" {
			return args[0], nil
		}
	}
	return recv, nil
}

func filterLength(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	switch t := recv.(type) {
	case string:
		return len([]rune(t)), nil
	case []any:
		return len(t), nil
	case map[string]any:
		return len(t), nil
	default:
		return nil, fmt.Errorf("expected a string, list, or map, got %T", recv)
	}
}

func filterFirst(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	switch t := recv.(type) {
	case []any:
		if len(t) == 0 {
			return nil, nil
		}
		return t[0], nil
	case string:
		if t == "" {
			return "", nil
		}
		return string([]rune(t)[0]), nil
	default:
		return nil, fmt.Errorf("expected a list or string, got %T", recv)
	}
}

func filterLast(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	switch t := recv.(type) {
	case []any:
		if len(t) == 0 {
			return nil, nil
		}
		return t[len(t)-1], nil
	case string:
		if t == "" {
			return "", nil
		}
		runes := []rune(t)
		return string(runes[len(runes)-1]), nil
	default:
		return nil, fmt.Errorf("expected a list or string, got %T", recv)
	}
}

func filterKeys(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	m, ok := recv.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map, got %T", recv)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

func filterValues(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	m, ok := recv.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map, got %T", recv)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out, nil
}

func filterUnique(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	l, err := asList(recv)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, v := range l {
		dup := false
		for _, seen := range out {
			if Equal(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func filterSort(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	l, err := asList(recv)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(l))
	copy(out, l)
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		less, err := compare("<", out[i], out[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		b, _ := less.(bool)
		return b
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

func filterReverse(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	switch t := recv.(type) {
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[len(t)-1-i] = v
		}
		return out, nil
	case string:
		runes := []rune(t)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	default:
		return nil, fmt.Errorf("expected a list or string, got %T", recv)
	}
}

func filterSum(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	l, err := asList(recv)
	if err != nil {
		return nil, err
	}
	allInt := true
	var total float64
	for _, v := range l {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("non-numeric element %T", v)
		}
		if _, isInt := toInt(v); !isInt {
			allInt = false
		}
		total += f
	}
	if allInt {
		return int(total), nil
	}
	return total, nil
}

func filterMin(_ *Evaluator, recv any, args []any) (any, error) {
	return extremum(recv, args, "<")
}

func filterMax(_ *Evaluator, recv any, args []any) (any, error) {
	return extremum(recv, args, ">")
}

func extremum(recv any, args []any, op string) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	l, err := asList(recv)
	if err != nil {
		return nil, err
	}
	if len(l) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	best := l[0]
	for _, v := range l[1:] {
		wins, err := compare(op, v, best)
		if err != nil {
			return nil, err
		}
		if b, _ := wins.(bool); b {
			best = v
		}
	}
	return best, nil
}

func filterAbs(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	if i, ok := toInt(recv); ok {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	if f, ok := toFloat(recv); ok {
		return math.Abs(f), nil
	}
	return nil, fmt.Errorf("expected a number, got %T", recv)
}

func filterRound(_ *Evaluator, recv any, args []any) (any, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("expected at most 1 argument, got %d", len(args))
	}
	f, ok := toFloat(recv)
	if !ok {
		return nil, fmt.Errorf("expected a number, got %T", recv)
	}
	if len(args) == 0 {
		return int(math.Round(f)), nil
	}
	prec, ok := toInt(args[0])
	if !ok {
		return nil, fmt.Errorf("precision must be an integer")
	}
	scale := math.Pow(10, float64(prec))
	return math.Round(f*scale) / scale, nil
}

func filterInt(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	switch t := recv.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float64:
		return int(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", t)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to int", recv)
	}
}

func filterFloat(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	if f, ok := toFloat(recv); ok {
		return f, nil
	}
	if s, ok := recv.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot convert %T to float", recv)
}

func filterString(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	return Stringify(recv), nil
}

func filterBool(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	return Truthy(recv), nil
}

func filterJSON(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	data, err := json.Marshal(recv)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func filterFromJSON(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func filterB64Encode(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString([]byte(s)), nil
}

func filterB64Decode(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func filterURLEncode(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	return url.QueryEscape(s), nil
}

func filterRegexMatch(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 1); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	pattern, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re.MatchString(s), nil
}

func filterRegexReplace(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 2); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	pattern, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	repl, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re.ReplaceAllString(s, repl), nil
}

func filterIsIP(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	return net.ParseIP(s) != nil, nil
}

func filterIsURL(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(s)
	if err != nil {
		return false, nil
	}
	return u.Scheme != "" && u.Host != "", nil
}

func filterFileExists(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(s)
	return statErr == nil, nil
}

// filterShellQuote wraps the value in POSIX single quotes with embedded
// quotes escaped as '\''. Any value interpolated into a run command must
// pass through this filter; the validator warns when it is omitted.
func filterShellQuote(_ *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	return ShellQuote(Stringify(recv)), nil
}

// ShellQuote quotes s as a single POSIX shell token.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func filterSafePath(e *Evaluator, recv any, args []any) (any, error) {
	if err := wantArgs(args, 0); err != nil {
		return nil, err
	}
	s, err := asString(recv)
	if err != nil {
		return nil, err
	}
	return e.SafePath(s)
}
