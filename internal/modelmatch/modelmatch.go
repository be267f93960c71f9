// Package modelmatch resolves model hints against the set of available
// model names. A hint may be a glob pattern; dated model names sort
// lexicographically, so the reverse-sorted first match is the newest.
package modelmatch

import (
	"path"
	"sort"
	"strings"
)

// IsPattern reports whether the hint contains glob metacharacters.
func IsPattern(hint string) bool {
	return strings.ContainsAny(hint, "*?[")
}

// Resolve maps a model hint to a concrete model name. A plain hint is
// returned as-is. A glob hint is matched against available and the newest
// (lexicographically greatest) match wins. A pattern that matches nothing
// falls back to the hint itself; the capability decides whether that is
// usable.
func Resolve(hint string, available []string) string {
	if hint == "" || !IsPattern(hint) {
		return hint
	}

	var matches []string
	for _, name := range available {
		if ok, err := path.Match(hint, name); err == nil && ok {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return hint
	}

	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches[0]
}
