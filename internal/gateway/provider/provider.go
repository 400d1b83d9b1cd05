// Package provider adapts upstream identity providers to a common login
// handshake: build a redirect, then trade the returned code for an
// Identity.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
)

// DefaultHTTPTimeout bounds every call made to an upstream provider.
const DefaultHTTPTimeout = 10 * time.Second

// Provider is one upstream identity provider.
type Provider interface {
	// Name is the key used in the provider query parameter and logs.
	Name() string

	// RedirectURL returns the provider authorization URL carrying state.
	RedirectURL(sessionID, state string) string

	// Exchange trades an authorization code for the user's identity. It
	// fails with domain.ErrStateMismatch, without contacting the provider,
	// when state differs from expectedState. Upstream failures wrap
	// domain.ErrProviderError.
	Exchange(ctx context.Context, code, state, expectedState string) (domain.Identity, error)
}

// Preparer is implemented by providers that must do work, such as
// discovery, before RedirectURL can answer.
type Preparer interface {
	Prepare(ctx context.Context) error
}

func checkState(state, expected string) error {
	if expected == "" || state != expected {
		return domain.ErrStateMismatch
	}
	return nil
}

func upstreamError(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrProviderError, what, err)
}

// finishIdentity validates and normalises an identity assembled by an
// adapter.
func finishIdentity(id domain.Identity) (domain.Identity, error) {
	if !domain.ValidUsername(id.Username) {
		return domain.Identity{}, fmt.Errorf("%w: invalid username %q", domain.ErrProviderError, id.Username)
	}
	id.Groups = domain.NormalizeSet(id.Groups)
	return id, nil
}
