package domain

import (
	"slices"
	"strings"
)

// ScopeAdminToken grants token administration on behalf of any user.
const ScopeAdminToken = "admin:token"

// NormalizeSet trims, de-duplicates and sorts values, dropping empties. The
// result is never nil so it marshals as [] rather than null.
func NormalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// IsSubset reports whether every element of sub is present in super.
func IsSubset(sub, super []string) bool {
	for _, s := range sub {
		if !slices.Contains(super, s) {
			return false
		}
	}
	return true
}

// Satisfy controls how a list of required scopes is evaluated.
type Satisfy string

const (
	SatisfyAll Satisfy = "all"
	SatisfyAny Satisfy = "any"
)

// ParseSatisfy maps a query value to a Satisfy mode. Empty means all.
func ParseSatisfy(s string) (Satisfy, bool) {
	switch Satisfy(strings.ToLower(s)) {
	case "", SatisfyAll:
		return SatisfyAll, true
	case SatisfyAny:
		return SatisfyAny, true
	default:
		return "", false
	}
}

// Satisfied evaluates required against have. An empty requirement is always
// satisfied.
func (s Satisfy) Satisfied(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	if s == SatisfyAny {
		return slices.ContainsFunc(required, func(r string) bool {
			return slices.Contains(have, r)
		})
	}
	return IsSubset(required, have)
}
