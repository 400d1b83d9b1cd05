package authsdk

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// Session is a token presented as a bearer credential on every request,
// or the gateway cookies of a browser login.
type Session struct {
	client  *SDKClient
	token   string
	cookies []*http.Cookie

	mu     sync.RWMutex
	scopes map[string]bool // nil until the token record has been loaded
	csrf   string          // cookie sessions only, fetched on first unsafe request
}

// Token returns the bearer token, or "" for a cookie session.
func (s *Session) Token() string {
	return s.token
}

func (s *Session) setScopes(scopes []string) {
	m := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		m[scope] = true
	}
	s.mu.Lock()
	s.scopes = m
	s.mu.Unlock()
}

// Scopes returns the token's scopes, sorted, or nil when unknown.
func (s *Session) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.scopes == nil {
		return nil
	}
	scopes := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		scopes = append(scopes, scope)
	}
	slices.Sort(scopes)
	return scopes
}

// HasScope returns true if the session is known to have the scope.
func (s *Session) HasScope(scope string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopes[scope]
}

// checkScopes checks if the session has all required scopes.
// Returns an error if scope checking is enabled and scopes are missing.
func (s *Session) checkScopes(required ...string) error {
	if !s.client.CheckScopes || len(required) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.scopes == nil {
		return nil
	}

	var missing []string
	for _, scope := range required {
		if !s.scopes[scope] {
			missing = append(missing, scope)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required scope(s): %s", strings.Join(missing, ", "))
	}

	return nil
}
