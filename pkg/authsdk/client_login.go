package authsdk

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// LoginRedirect is a redirect answered by /login or /logout, with the
// cookies the browser would store.
type LoginRedirect struct {
	StatusCode int
	Location   string
	Cookies    []*http.Cookie
}

// StartLogin begins a login that returns to returnURL. An empty provider
// selects the gateway default. The response redirects to the provider.
func (c *SDKClient) StartLogin(ctx context.Context, provider, returnURL string) (*LoginRedirect, error) {
	q := url.Values{"rd": {returnURL}}
	if provider != "" {
		q.Set("provider", provider)
	}
	return c.redirect(ctx, "/login?"+q.Encode(), nil)
}

// FinishLogin delivers the provider callback, presenting the cookies from
// StartLogin. On success the gateway redirects to the return URL and sets
// its session cookie.
func (c *SDKClient) FinishLogin(ctx context.Context, cookies []*http.Cookie, code, state string) (*LoginRedirect, error) {
	q := url.Values{"code": {code}, "state": {state}}
	return c.redirect(ctx, "/login?"+q.Encode(), cookies)
}

// Logout revokes the session behind cookies and follows nothing.
func (c *SDKClient) Logout(ctx context.Context, cookies []*http.Cookie) (*LoginRedirect, error) {
	return c.redirect(ctx, "/logout", cookies)
}

func (c *SDKClient) redirect(ctx context.Context, path string, cookies []*http.Cookie) (*LoginRedirect, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusSeeOther && resp.StatusCode != http.StatusFound {
		if err := parseErrorResponse(resp, body); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return &LoginRedirect{
		StatusCode: resp.StatusCode,
		Location:   resp.Header.Get("Location"),
		Cookies:    resp.Cookies(),
	}, nil
}

func basicToken(token string) string {
	return base64.StdEncoding.EncodeToString([]byte("x-oauth-basic:" + token))
}
