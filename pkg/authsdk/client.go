package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the tollgate gateway.
// It provides access to unauthenticated operations and can create authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// CheckScopes determines whether a Session with known scopes validates
	// them client-side before making a request. Set to false in tests that
	// exercise the server-side checks.
	// Default: true
	CheckScopes bool
}

// NewSDKClient creates a new gateway client with scope checking enabled.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			// Login and logout answer with redirects the caller should see.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		CheckScopes: true,
	}
}

// NewSession wraps an existing token without contacting the gateway. The
// session's scopes are unknown, so no client-side scope checks are made.
// Use this for the bootstrap token, which has no token record.
func (c *SDKClient) NewSession(token string) *Session {
	return &Session{client: c, token: token}
}

// NewCookieSession authenticates with the cookies a browser received from
// FinishLogin. The gateway prefers the cookie over any bearer token.
func (c *SDKClient) NewCookieSession(cookies []*http.Cookie) *Session {
	return &Session{client: c, cookies: cookies}
}

// Authenticate wraps token and loads its record, so later calls can be
// checked against its scopes client-side.
func (c *SDKClient) Authenticate(ctx context.Context, token string) (*Session, error) {
	s := c.NewSession(token)
	info, err := s.GetTokenInfo(ctx)
	if err != nil {
		return nil, err
	}
	s.setScopes(info.Scopes)
	return s, nil
}
