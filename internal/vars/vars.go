// Package vars implements the shared context store threaded through recipe
// execution: dotted-path resolution, single-pass template substitution, and
// the output-binding policy for step results.
//
// Context values form a closed set: string, float64, bool, nil, []any and
// map[string]any. Normalize enforces the closure at every write so that
// snapshots round-trip exactly through JSON checkpoints.
package vars

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var refPattern = regexp.MustCompile(`\{\{(\w+(?:\.\w+)*)\}\}`)

// Store is the mutable variable environment owned by one session.
// Writes are serialized; a value written by Set replaces the previous value
// entirely, there is no partial merge.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore creates a store seeded with the given initial mapping.
func NewStore(initial map[string]any) (*Store, error) {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("context variable %s: %w", k, err)
		}
		values[k] = nv
	}
	return &Store{values: values}, nil
}

// Normalize coerces v into the closed context value set. All numeric types
// collapse to float64; lists and mappings are normalized recursively.
func Normalize(v any) (any, error) {
	switch tv := v.(type) {
	case nil, string, bool, float64:
		return tv, nil
	case int:
		return float64(tv), nil
	case int8:
		return float64(tv), nil
	case int16:
		return float64(tv), nil
	case int32:
		return float64(tv), nil
	case int64:
		return float64(tv), nil
	case uint:
		return float64(tv), nil
	case uint8:
		return float64(tv), nil
	case uint16:
		return float64(tv), nil
	case uint32:
		return float64(tv), nil
	case uint64:
		return float64(tv), nil
	case float32:
		return float64(tv), nil
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			ni, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = ni
		}
		return out, nil
	case []string:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = item
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			ni, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = ni
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported context value type %T", v)
	}
}

// Set overwrites name with v. The previous value, if any, is replaced
// entirely.
func (s *Store) Set(name string, v any) error {
	nv, err := Normalize(v)
	if err != nil {
		return fmt.Errorf("context variable %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = nv
	return nil
}

// Resolve walks a dotted path (name.part1.part2...) through the store.
// Every intermediate value must be a mapping containing the next part;
// otherwise resolution fails with an undefined-path error.
func (s *Store) Resolve(path string) (any, error) {
	v, ok := s.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("undefined variable path: %s", path)
	}
	return v, nil
}

// Lookup is Resolve without the error, for use as an expr.LookupFunc.
func (s *Store) Lookup(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return descend(s.values, path)
}

// LookupWith returns a lookup that consults extra before the store. The
// overlay carries loop-variable bindings without mutating shared state.
func (s *Store) LookupWith(extra map[string]any) func(path string) (any, bool) {
	return func(path string) (any, bool) {
		if len(extra) > 0 {
			if v, ok := descend(extra, path); ok {
				return v, true
			}
		}
		return s.Lookup(path)
	}
}

func descend(values map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	root, ok := values[parts[0]]
	if !ok {
		return nil, false
	}
	current := root
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Substitute performs exactly one pass of {{ref}} replacement over the
// template. Resolved values are stringified and inserted verbatim;
// {{...}} sequences inside a resolved value are never re-expanded.
// An undefined reference is an error.
func (s *Store) Substitute(template string, extra map[string]any) (string, error) {
	lookup := s.LookupWith(extra)

	var refErr error
	out := refPattern.ReplaceAllStringFunc(template, func(m string) string {
		path := m[2 : len(m)-2]
		v, ok := lookup(path)
		if !ok {
			if refErr == nil {
				refErr = fmt.Errorf("undefined variable path: %s", path)
			}
			return m
		}
		return Stringify(v)
	})
	if refErr != nil {
		return "", refErr
	}
	return out, nil
}

// Stringify renders a context value for template substitution: strings
// verbatim, numbers without trailing zeros, lists and mappings as JSON.
func Stringify(v any) string {
	switch tv := v.(type) {
	case nil:
		return "null"
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(encoded)
	}
}

// ParseOutputValue applies the output-binding policy to a capability's raw
// text result: the text is tentatively parsed as JSON, and on success the
// parsed structure becomes the bound value so dotted-path and foreach access
// work on it. On parse failure the raw string is returned unchanged; that is
// only an error when the caller explicitly required JSON downstream.
func ParseOutputValue(raw string) (any, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw, false
	}
	switch trimmed[0] {
	case '{', '[', '"':
	default:
		// Scalars like bare numbers stay strings: a step that prints "42"
		// almost never means the number 42.
		return raw, false
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return raw, false
	}
	normalized, err := Normalize(parsed)
	if err != nil {
		return raw, false
	}
	return normalized, true
}

// ParseJSONValue parses raw strictly as JSON, for steps that declare their
// output must be JSON. Unlike ParseOutputValue it accepts scalars and
// reports malformed input as an error.
func ParseJSONValue(raw string) (any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return nil, err
	}
	return Normalize(parsed)
}

// Snapshot returns a deep copy of the current context mapping, suitable for
// checkpointing while other writers continue.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.values)
}

// Replace swaps the entire context for the given mapping, used when
// restoring from a checkpoint. The mapping must already be normalized.
func (s *Store) Replace(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = copyMap(values)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return copyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = copyValue(item)
		}
		return out
	default:
		return tv
	}
}
