package utils

import "strings"

// ScopeSet is a set of granted scope strings of the form "resource:action".
type ScopeSet map[string]struct{}

// ParseScopes builds a ScopeSet from a space-delimited scope string.
func ParseScopes(scope string) ScopeSet {
	set := make(ScopeSet)
	for _, s := range strings.Fields(scope) {
		set[s] = struct{}{}
	}
	return set
}

// NewScopeSet builds a ScopeSet from a slice.
func NewScopeSet(scopes []string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// String returns the canonical space-delimited form.
func (s ScopeSet) String() string {
	parts := make([]string, 0, len(s))
	for scope := range s {
		parts = append(parts, scope)
	}
	return strings.Join(parts, " ")
}

// Slice returns the granted scopes as a slice.
func (s ScopeSet) Slice() []string {
	parts := make([]string, 0, len(s))
	for scope := range s {
		parts = append(parts, scope)
	}
	return parts
}

// Satisfies reports whether the set grants the required scope. An exact match
// always satisfies. A granted "resource:*" widens actions within that one
// resource; it never crosses resource boundaries and never satisfies an
// "admin" requirement, which must be granted verbatim.
func (s ScopeSet) Satisfies(required string) bool {
	if _, ok := s[required]; ok {
		return true
	}
	if required == "admin" || strings.HasPrefix(required, "admin:") {
		return false
	}
	resource, _, found := strings.Cut(required, ":")
	if !found || resource == "" {
		return false
	}
	_, ok := s[resource+":*"]
	return ok
}

// SatisfiesAll reports whether every required scope is granted.
func (s ScopeSet) SatisfiesAll(required []string) bool {
	for _, r := range required {
		if !s.Satisfies(r) {
			return false
		}
	}
	return true
}
