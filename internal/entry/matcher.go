package entry

import (
	"path"
	"strings"
)

// Matcher decides whether a path lies in the scope of a root. A wildcard
// in the last root component becomes a pattern; the components before it
// are compared literally, ignoring case.
type Matcher struct {
	prefix    []string
	pattern   string
	recursive bool
}

// HasWildcard reports whether s contains a wildcard. The AmigaDOS "#?"
// form counts as well.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?[") || strings.Contains(s, "#?")
}

// NewMatcher builds a matcher for root.
func NewMatcher(root []string, recursive bool) *Matcher {
	m := &Matcher{recursive: recursive}
	if n := len(root); n > 0 && HasWildcard(root[n-1]) {
		m.pattern = strings.ToLower(strings.ReplaceAll(root[n-1], "#?", "*"))
		root = root[:n-1]
	}
	m.prefix = append([]string(nil), root...)
	return m
}

// Prefix returns the literal root components.
func (m *Matcher) Prefix() []string { return m.prefix }

// Pattern returns the wildcard pattern, empty when there is none.
func (m *Matcher) Pattern() string { return m.pattern }

// Recursive reports whether the scope covers the whole subtree.
func (m *Matcher) Recursive() bool { return m.recursive }

// IsMatch reports whether components lies in scope. With a pattern the
// component right below the prefix is matched, or in recursive mode the
// last component.
func (m *Matcher) IsMatch(components []string) bool {
	if len(components) < len(m.prefix) {
		return false
	}
	for i, p := range m.prefix {
		if !strings.EqualFold(p, components[i]) {
			return false
		}
	}
	if m.pattern == "" {
		return true
	}
	if len(components) == len(m.prefix) {
		return false
	}
	target := components[len(m.prefix)]
	if m.recursive {
		target = components[len(components)-1]
	}
	ok, err := path.Match(m.pattern, strings.ToLower(target))
	return err == nil && ok
}
