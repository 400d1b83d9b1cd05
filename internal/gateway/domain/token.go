package domain

import (
	"fmt"
	"slices"
	"time"
)

// TokenType identifies how a token was issued and what it may be used for.
type TokenType string

const (
	TokenTypeSession  TokenType = "session"
	TokenTypeUser     TokenType = "user"
	TokenTypeNotebook TokenType = "notebook"
	TokenTypeInternal TokenType = "internal"
	TokenTypeService  TokenType = "service"
)

// ParseTokenType validates a token type string.
func ParseTokenType(s string) (TokenType, error) {
	switch t := TokenType(s); t {
	case TokenTypeSession, TokenTypeUser, TokenTypeNotebook, TokenTypeInternal, TokenTypeService:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown token type %q", ErrInvalidRequest, s)
	}
}

// MinUserTokenLifetime is the shortest lifetime accepted for user tokens.
const MinUserTokenLifetime = 5 * time.Minute

// MaxDelegationDepth is the deepest a token may sit below its root. Revocation
// cascades are bounded by the same number, so every descendant is reachable.
const MaxDelegationDepth = 16

// TokenData is the stored record behind a token. Its ID is the JWT jti; a
// token is valid only while this record exists and has not expired.
type TokenData struct {
	ID        string    `json:"id"`
	Type      TokenType `json:"type"`
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	Groups    []string  `json:"groups,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Parent    string    `json:"parent,omitempty"`
	// Depth counts the ancestors between this token and its root.
	Depth int `json:"depth,omitempty"`

	// TokenName is set on user tokens and unique per subject.
	TokenName string `json:"token_name,omitempty"`
	// Service is set on internal tokens.
	Service string `json:"service,omitempty"`

	// Identity captured at login and propagated to children.
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	UID   string `json:"uid,omitempty"`
}

// Expired reports whether the token is past its expiry at now.
func (t TokenData) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TTL returns the remaining lifetime at now, never negative.
func (t TokenData) TTL(now time.Time) time.Duration {
	return max(t.ExpiresAt.Sub(now), 0)
}

// HasScope reports whether the token carries scope.
func (t TokenData) HasScope(scope string) bool {
	return slices.Contains(t.Scopes, scope)
}

// Identity returns the user identity carried by the token.
func (t TokenData) Identity() Identity {
	return Identity{
		Username: t.Subject,
		Email:    t.Email,
		Name:     t.Name,
		UID:      t.UID,
		Groups:   t.Groups,
	}
}

// TokenSpec is a request to mint a token.
type TokenSpec struct {
	Type     TokenType
	Identity Identity
	Scopes   []string
	TTL      time.Duration
	// ExpiresAt overrides TTL when set.
	ExpiresAt time.Time

	// Parent is the token being delegated from. Nil for session and
	// service tokens.
	Parent *TokenData

	TokenName string
	Service   string
}

// IssuedToken is a freshly minted token and its signed form.
type IssuedToken struct {
	Data  TokenData `json:"data"`
	Token string    `json:"token"`
}
