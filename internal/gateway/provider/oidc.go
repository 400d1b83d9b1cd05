package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultUsernameClaim = "preferred_username"
	DefaultUIDClaim      = "sub"
	DefaultGroupsClaim   = "groups"
)

type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// Scopes requested in addition to openid.
	Scopes []string

	UsernameClaim string
	UIDClaim      string
	GroupsClaim   string

	HTTPClient *http.Client
}

// discovered is the result of provider discovery. It is built once and
// never mutated.
type discovered struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// OIDC logs users in against a generic OpenID Connect provider. Discovery
// runs on first use so the gateway can start while the provider is down.
type OIDC struct {
	cfg        OIDCConfig
	httpClient *http.Client

	mu    sync.RWMutex
	state *discovered
	group singleflight.Group
}

func NewOIDC(cfg OIDCConfig) (*OIDC, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc: issuer and client id are required")
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = DefaultUsernameClaim
	}
	if cfg.UIDClaim == "" {
		cfg.UIDClaim = DefaultUIDClaim
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = DefaultGroupsClaim
	}

	o := &OIDC{cfg: cfg, httpClient: cfg.HTTPClient}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return o, nil
}

func (o *OIDC) Name() string { return "oidc" }

// Prepare runs discovery if it has not succeeded yet. Concurrent callers
// share one request.
func (o *OIDC) Prepare(ctx context.Context) error {
	_, err := o.discover(ctx)
	return err
}

func (o *OIDC) discover(ctx context.Context) (*discovered, error) {
	o.mu.RLock()
	d := o.state
	o.mu.RUnlock()
	if d != nil {
		return d, nil
	}

	v, err, _ := o.group.Do(o.cfg.Issuer, func() (any, error) {
		o.mu.RLock()
		d := o.state
		o.mu.RUnlock()
		if d != nil {
			return d, nil
		}

		// The provider keeps this context for later JWKS fetches, so it must
		// outlive the request that triggered discovery.
		pctx := oidc.ClientContext(context.WithoutCancel(ctx), o.httpClient)
		p, err := oidc.NewProvider(pctx, o.cfg.Issuer)
		if err != nil {
			return nil, upstreamError("oidc discovery", err)
		}

		endpoint := p.Endpoint()
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		d = &discovered{
			oauth: &oauth2.Config{
				ClientID:     o.cfg.ClientID,
				ClientSecret: o.cfg.ClientSecret,
				RedirectURL:  o.cfg.CallbackURL,
				Endpoint:     endpoint,
				Scopes:       append([]string{oidc.ScopeOpenID}, o.cfg.Scopes...),
			},
			verifier: p.Verifier(&oidc.Config{ClientID: o.cfg.ClientID}),
		}

		o.mu.Lock()
		o.state = d
		o.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*discovered), nil
}

// RedirectURL returns "" until Prepare has succeeded.
func (o *OIDC) RedirectURL(_, state string) string {
	o.mu.RLock()
	d := o.state
	o.mu.RUnlock()
	if d == nil {
		return ""
	}
	return d.oauth.AuthCodeURL(state)
}

func (o *OIDC) Exchange(ctx context.Context, code, state, expectedState string) (domain.Identity, error) {
	if err := checkState(state, expectedState); err != nil {
		return domain.Identity{}, err
	}

	d, err := o.discover(ctx)
	if err != nil {
		return domain.Identity{}, err
	}

	ctx = oidc.ClientContext(ctx, o.httpClient)
	tok, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.Identity{}, upstreamError("oidc code exchange", err)
	}

	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return domain.Identity{}, fmt.Errorf("%w: oidc token response has no id_token", domain.ErrProviderError)
	}
	idToken, err := d.verifier.Verify(ctx, rawID)
	if err != nil {
		return domain.Identity{}, upstreamError("oidc id token", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return domain.Identity{}, upstreamError("oidc claims", err)
	}
	return o.identityFromClaims(claims)
}

func (o *OIDC) identityFromClaims(claims map[string]any) (domain.Identity, error) {
	username, _ := claims[o.cfg.UsernameClaim].(string)
	if username == "" {
		return domain.Identity{}, fmt.Errorf("%w: oidc claim %q missing", domain.ErrProviderError, o.cfg.UsernameClaim)
	}

	id := domain.Identity{
		Username: username,
		UID:      claimString(claims[o.cfg.UIDClaim]),
		Groups:   claimGroups(claims[o.cfg.GroupsClaim]),
	}
	id.Email, _ = claims["email"].(string)
	id.Name, _ = claims["name"].(string)
	return finishIdentity(id)
}

// claimString renders a string or numeric claim. JSON numbers decode as
// float64.
func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// claimGroups accepts a list of names or a list of objects carrying a name.
func claimGroups(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(list))
	for _, item := range list {
		switch g := item.(type) {
		case string:
			groups = append(groups, strings.TrimPrefix(g, "/"))
		case map[string]any:
			if name, ok := g["name"].(string); ok {
				groups = append(groups, name)
			}
		}
	}
	return groups
}
