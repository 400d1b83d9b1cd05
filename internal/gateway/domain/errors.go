package domain

import (
	"context"
	"errors"
)

// Token validity. All of these collapse to a 401 at the edge; the specific
// reason is only ever logged.
var (
	ErrNoCredential = errors.New("no credential presented")
	ErrBadSignature = errors.New("token signature invalid")
	ErrMalformed    = errors.New("token malformed")
	ErrExpired      = errors.New("token expired")
	ErrNotFound     = errors.New("token not found")
)

// Authorization.
var (
	ErrInsufficientScope = errors.New("insufficient scope")
	ErrPermissionDenied  = errors.New("permission denied")
)

// Login handshake.
var (
	ErrStateMismatch = errors.New("login state mismatch")
	ErrProviderError = errors.New("identity provider error")
	ErrTimeout       = errors.New("operation timed out")
)

// Issuance and delegation.
var (
	ErrConflict         = errors.New("token already exists")
	ErrScopeNotSubset   = errors.New("requested scopes exceed parent scopes")
	ErrTtlExceedsParent = errors.New("requested lifetime exceeds parent expiry")
	ErrBadExpires       = errors.New("invalid expiration")
	ErrInvalidRequest   = errors.New("invalid request")
)

// IsValidityError reports whether err means the presented credential cannot
// be trusted.
func IsValidityError(err error) bool {
	return errors.Is(err, ErrNoCredential) ||
		errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrNotFound)
}

// AsTimeout rewrites context deadline errors to ErrTimeout and leaves
// everything else alone.
func AsTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
