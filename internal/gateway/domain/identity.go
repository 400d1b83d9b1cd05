package domain

import "regexp"

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// Identity is the user information an identity provider vouches for. It is
// never stored on its own; it is copied onto the tokens minted from it.
type Identity struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Name     string   `json:"name,omitempty"`
	UID      string   `json:"uid,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// ValidUsername reports whether s is an acceptable username.
func ValidUsername(s string) bool {
	return len(s) <= 64 && usernamePattern.MatchString(s)
}
