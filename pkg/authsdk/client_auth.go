package authsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// AuthCheck describes one auth subrequest.
type AuthCheck struct {
	// Token is sent as a bearer credential unless Basic is set
	Token string

	// Basic sends the token as Basic credentials using the x-oauth-basic
	// convention and asks for a Basic challenge on denial
	Basic bool

	Scopes  []string
	Satisfy string // "any" or "all"

	// AJAX marks the request as XMLHttpRequest, turning 401 into 403
	AJAX bool
}

// CheckAuth performs GET /auth the way a reverse proxy would and reports
// the decision. 401 and 403 are decisions, not errors.
func (c *SDKClient) CheckAuth(ctx context.Context, check AuthCheck) (*AuthDecision, error) {
	q := url.Values{}
	for _, s := range check.Scopes {
		q.Add("scope", s)
	}
	if check.Satisfy != "" {
		q.Set("satisfy", check.Satisfy)
	}

	headers := map[string]string{}
	if check.Token != "" {
		if check.Basic {
			headers["Authorization"] = "Basic " + basicToken(check.Token)
		} else {
			headers["Authorization"] = "Bearer " + check.Token
		}
	}
	if check.Basic {
		q.Set("auth_type", "basic")
	}
	if check.AJAX {
		headers["X-Requested-With"] = "XMLHttpRequest"
	}

	path := "/auth"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
	default:
		return nil, fmt.Errorf("unexpected auth status %d", resp.StatusCode)
	}

	h := resp.Header
	return &AuthDecision{
		StatusCode:     resp.StatusCode,
		User:           h.Get("X-Auth-Request-User"),
		Email:          h.Get("X-Auth-Request-Email"),
		UID:            h.Get("X-Auth-Request-Uid"),
		Groups:         splitHeader(h.Get("X-Auth-Request-Groups"), ","),
		TokenScopes:    splitHeader(h.Get("X-Auth-Request-Token-Scopes"), " "),
		ScopesAccepted: splitHeader(h.Get("X-Auth-Request-Scopes-Accepted"), " "),
		ScopesSatisfy:  h.Get("X-Auth-Request-Scopes-Satisfy"),
		Challenge:      h.Get("WWW-Authenticate"),
	}, nil
}

func splitHeader(v, sep string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
