package vars

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_NumericCollapse(t *testing.T) {
	t.Parallel()

	for _, v := range []any{int(3), int64(3), uint(3), float32(3), float64(3)} {
		got, err := Normalize(v)
		require.NoError(t, err)
		require.Equal(t, float64(3), got)
	}
}

func TestNormalize_Recursive(t *testing.T) {
	t.Parallel()

	got, err := Normalize(map[string]any{
		"items": []any{1, "two", true},
		"inner": map[string]any{"n": int64(7)},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"items": []any{float64(1), "two", true},
		"inner": map[string]any{"n": float64(7)},
	}, got)
}

func TestNormalize_RejectsUnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := Normalize(struct{ X int }{X: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported context value type")
}

func TestStore_ResolveDottedPath(t *testing.T) {
	t.Parallel()

	s, err := NewStore(map[string]any{
		"result": map[string]any{
			"status": "ok",
			"nested": map[string]any{"count": 3},
		},
	})
	require.NoError(t, err)

	v, err := s.Resolve("result.status")
	require.NoError(t, err)
	require.Equal(t, "ok", v)

	v, err = s.Resolve("result.nested.count")
	require.NoError(t, err)
	require.Equal(t, float64(3), v)

	_, err = s.Resolve("result.missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "undefined variable path")

	// Descending into a non-mapping fails rather than panicking.
	_, err = s.Resolve("result.status.deeper")
	require.Error(t, err)
}

func TestStore_SetReplacesWholeValue(t *testing.T) {
	t.Parallel()

	s, err := NewStore(map[string]any{
		"cfg": map[string]any{"a": 1, "b": 2},
	})
	require.NoError(t, err)

	require.NoError(t, s.Set("cfg", map[string]any{"c": 3}))

	_, err = s.Resolve("cfg.a")
	require.Error(t, err)

	v, err := s.Resolve("cfg.c")
	require.NoError(t, err)
	require.Equal(t, float64(3), v)
}

func TestStore_SubstituteSinglePass(t *testing.T) {
	t.Parallel()

	s, err := NewStore(map[string]any{
		"name":  "world",
		"tmpl":  "{{name}}",
		"count": 2,
	})
	require.NoError(t, err)

	out, err := s.Substitute("hello {{name}}, count={{count}}", nil)
	require.NoError(t, err)
	require.Equal(t, "hello world, count=2", out)

	// A value containing {{...}} is inserted verbatim, never re-expanded.
	out, err = s.Substitute("ref: {{tmpl}}", nil)
	require.NoError(t, err)
	require.Equal(t, "ref: {{name}}", out)
}

func TestStore_SubstituteUndefinedIsError(t *testing.T) {
	t.Parallel()

	s, err := NewStore(nil)
	require.NoError(t, err)

	_, err = s.Substitute("hello {{missing}}", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "undefined variable path")
}

func TestStore_SubstituteComplexValuesAsJSON(t *testing.T) {
	t.Parallel()

	s, err := NewStore(map[string]any{
		"items": []any{"a", "b"},
		"obj":   map[string]any{"k": "v"},
		"flag":  true,
		"null":  nil,
	})
	require.NoError(t, err)

	out, err := s.Substitute("{{items}} {{obj}} {{flag}} {{null}}", nil)
	require.NoError(t, err)
	require.Equal(t, `["a","b"] {"k":"v"} true null`, out)
}

func TestStore_OverlayShadowsWithoutMutating(t *testing.T) {
	t.Parallel()

	s, err := NewStore(map[string]any{"item": "outer", "base": "kept"})
	require.NoError(t, err)

	lookup := s.LookupWith(map[string]any{"item": "inner"})

	v, ok := lookup("item")
	require.True(t, ok)
	require.Equal(t, "inner", v)

	v, ok = lookup("base")
	require.True(t, ok)
	require.Equal(t, "kept", v)

	// The store itself is untouched by the overlay.
	v, err = s.Resolve("item")
	require.NoError(t, err)
	require.Equal(t, "outer", v)
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()

	s, err := NewStore(map[string]any{
		"obj": map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	snap["obj"].(map[string]any)["k"] = "mutated"

	v, err := s.Resolve("obj.k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestStore_ReplaceRestoresSnapshot(t *testing.T) {
	t.Parallel()

	s, err := NewStore(map[string]any{"a": 1})
	require.NoError(t, err)

	snap := s.Snapshot()
	require.NoError(t, s.Set("a", 2))
	require.NoError(t, s.Set("b", "new"))

	s.Replace(snap)

	v, err := s.Resolve("a")
	require.NoError(t, err)
	require.Equal(t, float64(1), v)

	_, err = s.Resolve("b")
	require.Error(t, err)
}

func TestParseOutputValue(t *testing.T) {
	t.Parallel()

	v, parsed := ParseOutputValue(`{"status": "ok", "n": 2}`)
	require.True(t, parsed)
	require.Equal(t, map[string]any{"status": "ok", "n": float64(2)}, v)

	v, parsed = ParseOutputValue("[1, 2, 3]\n")
	require.True(t, parsed)
	require.Equal(t, []any{float64(1), float64(2), float64(3)}, v)

	// Plain text and bare scalars stay strings.
	v, parsed = ParseOutputValue("all done")
	require.False(t, parsed)
	require.Equal(t, "all done", v)

	v, parsed = ParseOutputValue("42")
	require.False(t, parsed)
	require.Equal(t, "42", v)

	// Malformed JSON falls back to the raw string.
	v, parsed = ParseOutputValue(`{"broken":`)
	require.False(t, parsed)
	require.Equal(t, `{"broken":`, v)

	v, parsed = ParseOutputValue("")
	require.False(t, parsed)
	require.Equal(t, "", v)
}

func TestParseJSONValue(t *testing.T) {
	t.Parallel()

	v, err := ParseJSONValue("42")
	require.NoError(t, err)
	require.Equal(t, float64(42), v)

	v, err = ParseJSONValue(`{"k": [1]}`)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"k": []any{float64(1)}}, v)

	_, err = ParseJSONValue("not json")
	require.Error(t, err)
}

func TestStringify(t *testing.T) {
	t.Parallel()

	require.Equal(t, "plain", Stringify("plain"))
	require.Equal(t, "2.5", Stringify(2.5))
	require.Equal(t, "3", Stringify(float64(3)))
	require.Equal(t, "true", Stringify(true))
	require.Equal(t, "null", Stringify(nil))
	require.Equal(t, `["x"]`, Stringify([]any{"x"}))
}
