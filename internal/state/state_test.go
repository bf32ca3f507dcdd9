package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReserved(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"__next", true},
		{"__condition_met", true},
		{"__workflow_exit", true},
		{"__workflow_failed", true},
		{"__resume_data", true},
		{"__step_outcome", true},
		{"__step_error", true},
		{"__loop_count_scan", true},
		{"__cleanup_done", true},
		{"__suspend_prompt", true},
		{"stdout", false},
		{"next", false},
		{"_private", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsReserved(tt.key), tt.key)
	}
}

func TestIsControl(t *testing.T) {
	assert.True(t, IsControl(KeyWorkflowExit))
	assert.True(t, IsControl("__loop_break_requested"))
	// Resume data is reserved but never propagates from outputs.
	assert.False(t, IsControl(KeyResumeData))
	assert.False(t, IsControl("stdout"))
}

func TestSanitizeOutputs(t *testing.T) {
	out := SanitizeOutputs(map[string]any{
		"stdout":          "hello",
		"exit_code":       0,
		"__workflow_exit": true,
		"__loop_count_x":  3,
	})
	assert.Equal(t, map[string]any{"stdout": "hello", "exit_code": 0}, out)
}

func TestStateImmutability(t *testing.T) {
	s1 := New(map[string]any{"a": 1})
	s2 := s1.With("b", 2)

	_, ok := s1.Get("b")
	assert.False(t, ok, "older version must not observe the update")
	v, ok := s2.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, s1.Len())
	assert.Equal(t, 2, s2.Len())
}

func TestStateWithAllNilDeletes(t *testing.T) {
	s := New(map[string]any{"keep": 1, "drop": 2})
	s = s.WithAll(map[string]any{"drop": nil, "add": 3})

	_, ok := s.Get("drop")
	assert.False(t, ok)
	assert.Equal(t, 3, s.Int("add"))
	assert.Equal(t, 1, s.Int("keep"))
}

func TestStateAccessors(t *testing.T) {
	s := New(map[string]any{
		"b":   true,
		"s":   "text",
		"i":   int64(7),
		"f":   3.0,
		"bad": []any{1},
	})
	assert.True(t, s.Bool("b"))
	assert.False(t, s.Bool("s"))
	assert.Equal(t, "text", s.String("s"))
	assert.Equal(t, "", s.String("missing"))
	assert.Equal(t, 7, s.Int("i"))
	assert.Equal(t, 3, s.Int("f"))
	assert.Equal(t, 0, s.Int("bad"))
}

func TestStepResults(t *testing.T) {
	s := New(nil)
	s = s.WithStepResult("build", map[string]any{"outcome": OutcomeSuccess})
	prev := s
	s = s.WithStepResult("test", map[string]any{"outcome": OutcomeFailure})

	assert.Nil(t, prev.StepResult("test"), "steps map must be copied per write")
	require.NotNil(t, s.StepResult("build"))
	assert.Equal(t, OutcomeFailure, s.StepResult("test")["outcome"])
	assert.Nil(t, s.StepResult("missing"))
}

func TestFrameDerivedFields(t *testing.T) {
	f := NewFrame([]any{"a", "b", "c"}, 3, nil)
	assert.Equal(t, "a", f.Item)
	assert.Equal(t, 1, f.Index)
	assert.Equal(t, 0, f.Index0)
	assert.True(t, f.First)
	assert.False(t, f.Last)
	assert.Equal(t, 3, f.Revindex)
	assert.Equal(t, 2, f.Revindex0)

	f = f.Next().Next()
	assert.Equal(t, "c", f.Item)
	assert.Equal(t, 3, f.Index)
	assert.False(t, f.First)
	assert.True(t, f.Last)
	assert.Equal(t, 1, f.Revindex)
	assert.Equal(t, 0, f.Revindex0)
	assert.False(t, f.Exhausted())

	f = f.Next()
	assert.True(t, f.Exhausted())
}

func TestFrameUnbounded(t *testing.T) {
	f := NewFrame(nil, -1, nil)
	assert.Equal(t, 0, f.Item, "unbounded loops iterate ordinals")
	assert.False(t, f.Last)
	assert.Equal(t, -1, f.Revindex)
	assert.False(t, f.Exhausted())

	f = f.Next()
	assert.Equal(t, 1, f.Item)
	assert.False(t, f.Exhausted())
}

func TestFrameAttr(t *testing.T) {
	parent := NewFrame([]any{"x"}, 1, nil)
	f := NewFrame([]any{1, 2}, 2, parent)

	v, ok := f.Attr("item")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = f.Attr("parent")
	require.True(t, ok)
	assert.Same(t, parent, v)

	v, ok = parent.Attr("parent")
	require.True(t, ok)
	assert.Nil(t, v)

	_, ok = f.Attr("nope")
	assert.False(t, ok)
}

func TestCoerceInputs(t *testing.T) {
	specs := map[string]InputSpec{
		"env":     {Type: "string", Required: true, Enum: []any{"dev", "prod"}},
		"retries": {Type: "integer", Default: 3},
		"force":   {Type: "boolean", Default: false},
	}

	got, err := CoerceInputs(specs, map[string]any{"env": "prod", "force": "yes"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"env": "prod", "retries": 3, "force": true}, got)
}

func TestCoerceInputsErrors(t *testing.T) {
	specs := map[string]InputSpec{
		"env":  {Type: "string", Required: true},
		"name": {Type: "string", Pattern: `^[a-z]+$`},
	}

	_, err := CoerceInputs(specs, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required input "env"`)

	_, err = CoerceInputs(specs, map[string]any{"env": "x", "bogus": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")

	_, err = CoerceInputs(specs, map[string]any{"env": "x", "name": "Bad!"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match pattern")
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		typ     string
		want    any
		wantErr bool
	}{
		{"string passthrough", "x", "string", "x", false},
		{"int to string", 5, "string", "5", false},
		{"bool to string", true, "", "true", false},
		{"string to number", " 2.5 ", "number", 2.5, false},
		{"int to number", 4, "number", 4.0, false},
		{"bad number", "nope", "number", nil, true},
		{"string to integer", "12", "integer", 12, false},
		{"whole float to integer", 6.0, "integer", 6, false},
		{"fractional float rejected", 6.5, "integer", nil, true},
		{"word to boolean", "off", "boolean", false, false},
		{"bad boolean", "perhaps", "boolean", nil, true},
		{"json array", `[1,"a"]`, "array", []any{float64(1), "a"}, false},
		{"json object", `{"k":true}`, "object", map[string]any{"k": true}, false},
		{"bad json array", "{", "array", nil, true},
		{"unknown type", "x", "tuple", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.raw, tt.typ)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnumNumericEquality(t *testing.T) {
	specs := map[string]InputSpec{
		"port": {Type: "integer", Enum: []any{uint64(80), uint64(443)}},
	}
	got, err := CoerceInputs(specs, map[string]any{"port": "443"})
	require.NoError(t, err)
	assert.Equal(t, 443, got["port"])
}
