package service

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"gopkg.in/yaml.v3"
)

// ScopeMapper turns upstream group membership into scopes. The mapping can
// be swapped at runtime; each Map call sees one complete mapping.
type ScopeMapper struct {
	mapping atomic.Pointer[domain.GroupMapping]
}

func NewScopeMapper(m domain.GroupMapping) *ScopeMapper {
	s := &ScopeMapper{}
	s.Set(m)
	return s
}

// Set replaces the mapping.
func (s *ScopeMapper) Set(m domain.GroupMapping) {
	if m == nil {
		m = domain.GroupMapping{}
	}
	s.mapping.Store(&m)
}

// Map returns the sorted scopes granted by groups. A scope is granted when
// any one of its source groups is present.
func (s *ScopeMapper) Map(groups []string) []string {
	m := *s.mapping.Load()
	scopes := make([]string, 0, len(m))
	for scope, sources := range m {
		if slices.ContainsFunc(sources, func(g string) bool { return slices.Contains(groups, g) }) {
			scopes = append(scopes, scope)
		}
	}
	return domain.NormalizeSet(scopes)
}

// LoadGroupMapping reads a YAML document mapping scope names to lists of
// group names:
//
//	read:all:
//	  - staff
//	exec:admin:
//	  - admins
func LoadGroupMapping(path string) (domain.GroupMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read group mapping: %w", err)
	}
	return ParseGroupMapping(data)
}

func ParseGroupMapping(data []byte) (domain.GroupMapping, error) {
	var m domain.GroupMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse group mapping: %w", err)
	}
	out := make(domain.GroupMapping, len(m))
	for scope, groups := range m {
		scope = strings.TrimSpace(scope)
		if scope == "" || strings.ContainsAny(scope, " \t") {
			return nil, fmt.Errorf("parse group mapping: invalid scope name %q", scope)
		}
		out[scope] = domain.NormalizeSet(groups)
	}
	return out, nil
}
