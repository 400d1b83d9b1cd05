package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims carried by every token the gateway signs. The jti
// doubles as the token store key, so a verified JWT is only half the story:
// the record must still exist in the store.
type Claims struct {
	jwt.RegisteredClaims

	// TokenType is one of session, user, notebook, internal, service.
	TokenType string `json:"token_type,omitempty"`

	// Scopes granted to this token, sorted.
	Scopes []string `json:"scope,omitempty"`

	// Groups are upstream group names captured at issuance time.
	Groups []string `json:"groups,omitempty"`

	// Parent is the jti of the token this one was delegated from.
	Parent string `json:"parent,omitempty"`
}

// NewClaims builds claims for a token identified by id. The expiry is
// mandatory; a zero lifetime produces a token that is already expired.
func NewClaims(
	id, tokenType, subject, issuer string,
	scopes, groups []string,
	parent string,
	issuedAt, expiresAt time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        id,
		},
		TokenType: tokenType,
		Scopes:    scopes,
		Groups:    groups,
		Parent:    parent,
	}
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry fails unless now is strictly before exp. Tokens without an
// expiry are rejected outright.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	return nil
}

// HasScope reports whether scope was granted.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}
