package authsdk

import (
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

// ============================================================================
// Internal Response Types (used for JSON unmarshaling)
// ============================================================================

// ErrorResponse is the JSON body of every error returned by the gateway.
// Client code should use the OAuth2Error type from errors.go instead.
type ErrorResponse struct {
	// Error is the machine-readable error code (e.g., "invalid_token")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenInfo describes a stored token. Times are Unix seconds.
type TokenInfo struct {
	Token     string   `json:"token" example:"pE3aWbUFQlyb3bE5kGxTJA"`
	Username  string   `json:"username" example:"alice"`
	TokenType string   `json:"token_type" example:"session"`
	Scopes    []string `json:"scopes"`
	Created   int64    `json:"created"`
	Expires   int64    `json:"expires"`
	Parent    string   `json:"parent,omitempty"`
	TokenName string   `json:"token_name,omitempty"`
	Service   string   `json:"service,omitempty"`
}

// UserInfo is the identity carried by a token.
type UserInfo struct {
	Username string   `json:"username" example:"alice"`
	Name     string   `json:"name,omitempty" example:"Alice Example"`
	Email    string   `json:"email,omitempty" example:"alice@example.com"`
	UID      string   `json:"uid,omitempty" example:"4123"`
	Groups   []string `json:"groups,omitempty"`
}

// LoginInfo describes a browser session and carries the CSRF token its
// state-changing requests must send in X-CSRF-Token.
type LoginInfo struct {
	CSRF     string   `json:"csrf" example:"d2hhdGV2ZXI"`
	Username string   `json:"username" example:"alice"`
	Scopes   []string `json:"scopes"`
}

// CreateTokenRequest asks for a token delegated from the caller's token.
type CreateTokenRequest struct {
	// TokenType is one of user, notebook or internal
	TokenType string `json:"token_type" example:"user"`

	// Scopes must be a subset of the caller's scopes. Ignored for notebook
	// tokens, which carry every scope of the parent.
	Scopes []string `json:"scopes,omitempty"`

	// ExpiresIn is the requested lifetime in seconds. Zero means as long
	// as the parent token.
	ExpiresIn int `json:"expires_in,omitempty" example:"86400"`

	// TokenName names a user token and must be unique per user
	TokenName string `json:"token_name,omitempty" example:"ci"`

	// Service names the consumer of an internal token
	Service string `json:"service,omitempty" example:"portal"`
}

// AdminTokenRequest asks for a service token on behalf of any user.
type AdminTokenRequest struct {
	Username  string   `json:"username" example:"bot-builder"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresIn int      `json:"expires_in,omitempty" example:"3600"`
	TokenName string   `json:"token_name,omitempty"`
}

// NewTokenResponse carries a freshly minted token.
type NewTokenResponse struct {
	// Token is the signed bearer token. It is only ever shown once.
	Token string    `json:"token"`
	Info  TokenInfo `json:"token_info"`
}

// RevokeTokenResponse lists every token removed by a cascading revoke.
type RevokeTokenResponse struct {
	Revoked []string `json:"revoked"`
}

// TokenChangeEntry is one row of a user's token audit trail.
type TokenChangeEntry struct {
	Token     string   `json:"token"`
	Username  string   `json:"username"`
	TokenType string   `json:"token_type"`
	TokenName string   `json:"token_name,omitempty"`
	Parent    string   `json:"parent,omitempty"`
	Scopes    []string `json:"scopes"`
	Service   string   `json:"service,omitempty"`
	Expires   int64    `json:"expires,omitempty"`
	Actor     string   `json:"actor"`
	Action    string   `json:"action" example:"create"`
	IPAddress string   `json:"ip_address,omitempty"`
	EventTime int64    `json:"event_time"`
}

// ============================================================================
// Auth Subrequest Types
// ============================================================================

// AuthDecision is the outcome of a GET /auth subrequest as a proxy sees it.
type AuthDecision struct {
	// StatusCode is 200, 401 or 403
	StatusCode int

	User           string
	Email          string
	UID            string
	Groups         []string
	TokenScopes    []string
	ScopesAccepted []string
	ScopesSatisfy  string

	// Challenge is the WWW-Authenticate header of a denial
	Challenge string
}

// Allowed reports whether the gateway let the request through.
func (d *AuthDecision) Allowed() bool {
	return d.StatusCode == 200
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	// Store is the Redis token and session store
	Store string `json:"store"`

	// Database is the token change history database
	Database string `json:"database"`

	// Signer indicates the JWT signing capability status
	Signer string `json:"signer"`
}

// ============================================================================
// JWKS Types
// ============================================================================

// JWKSResponse contains the JSON Web Key Set.
// This is returned from the GET /.well-known/jwks.json endpoint and contains
// public keys used to verify JWT signatures.
type JWKSResponse jwtx.JWKS

// ============================================================================
// Key Rotation Types
// ============================================================================

// SigningKeyInfo describes one key the gateway will verify with.
type SigningKeyInfo struct {
	Kid       string  `json:"kid"`
	Algorithm string  `json:"alg" example:"EdDSA"`
	Active    bool    `json:"active"`
	CreatedAt string  `json:"created_at"`
	RetiredAt *string `json:"retired_at,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// RotateKeyResponse is returned by a key rotation.
type RotateKeyResponse struct {
	NewKid     string           `json:"new_kid"`
	RetiredKid string           `json:"retired_kid,omitempty"`
	Keys       []SigningKeyInfo `json:"keys"`
}
