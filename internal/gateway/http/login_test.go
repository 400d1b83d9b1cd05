package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLogin runs GET /login and returns the login cookie and state.
func startLogin(t *testing.T, srv *testServer, rd string) (*http.Cookie, string) {
	t.Helper()
	rec := srv.do(t, http.MethodGet, "/login?rd="+url.QueryEscape(rd), nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "idp.example.com", loc.Host)

	c := cookieNamed(rec, LoginCookieName)
	require.NotNil(t, c)
	return c, loc.Query().Get("state")
}

func loginKeys(srv *testServer) []string {
	var keys []string
	for _, k := range srv.mr.Keys() {
		if strings.Contains(k, "login:") {
			keys = append(keys, k)
		}
	}
	return keys
}

func callback(t *testing.T, srv *testServer, path string, login *http.Cookie, code, state string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{"code": {code}, "state": {state}}
	return srv.do(t, http.MethodGet, path+"?"+q.Encode(), nil, func(r *http.Request) {
		if login != nil {
			r.AddCookie(login)
		}
	})
}

func TestLogin_RoundTrip(t *testing.T) {
	for _, path := range []string{"/login", "/oauth2/callback"} {
		t.Run(path, func(t *testing.T) {
			srv := newTestServer(t)
			login, state := startLogin(t, srv, "https://app.example.com/page")

			rec := callback(t, srv, path, login, "good-code", state)
			require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
			assert.Equal(t, "https://app.example.com/page", rec.Header().Get("Location"))

			sess := cookieNamed(rec, SessionCookieName)
			require.NotNil(t, sess)
			assert.True(t, sess.HttpOnly)

			cleared := cookieNamed(rec, LoginCookieName)
			require.NotNil(t, cleared)
			assert.Equal(t, -1, cleared.MaxAge)

			// The cookie now authenticates /auth with mapped scopes.
			rec = srv.do(t, http.MethodGet, "/auth?scope=read:portal", nil, func(r *http.Request) { r.AddCookie(sess) })
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "alice", rec.Header().Get(HeaderUser))
			assert.Equal(t, "1001", rec.Header().Get(HeaderUID))
		})
	}
}

func TestLogin_ReturnURLFromHeader(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/login", nil, func(r *http.Request) {
		r.Header.Set("X-Auth-Request-Redirect", "https://app.example.com/x")
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestLogin_StartRejects(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		target string
	}{
		{"missing return url", "/login"},
		{"foreign host", "/login?rd=" + url.QueryEscape("https://evil.example.net/")},
		{"relative", "/login?rd=%2Fpath"},
		{"unknown provider", "/login?provider=nope&rd=" + url.QueryEscape("https://app.example.com/")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, tt.target, nil, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestLogin_CallbackFailures(t *testing.T) {
	t.Run("state mismatch", func(t *testing.T) {
		srv := newTestServer(t)
		login, _ := startLogin(t, srv, "https://app.example.com/")

		rec := callback(t, srv, "/login", login, "good-code", "wrong")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Nil(t, cookieNamed(rec, SessionCookieName))
	})

	t.Run("no login cookie", func(t *testing.T) {
		srv := newTestServer(t)
		_, state := startLogin(t, srv, "https://app.example.com/")

		rec := callback(t, srv, "/login", nil, "good-code", state)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("replayed callback", func(t *testing.T) {
		srv := newTestServer(t)
		login, state := startLogin(t, srv, "https://app.example.com/")

		rec := callback(t, srv, "/login", login, "good-code", state)
		require.Equal(t, http.StatusSeeOther, rec.Code)

		rec = callback(t, srv, "/login", login, "good-code", state)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("provider error", func(t *testing.T) {
		srv := newTestServer(t)
		login, state := startLogin(t, srv, "https://app.example.com/")

		rec := callback(t, srv, "/login", login, "bad-code", state)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode[authsdk.ErrorResponse](t, rec)
		assert.Equal(t, authsdk.ErrorCodeLoginFailed, body.Error)
	})

	t.Run("provider timeout", func(t *testing.T) {
		srv := newTestServer(t)
		srv.provider.err = domain.ErrTimeout
		login, state := startLogin(t, srv, "https://app.example.com/")

		rec := callback(t, srv, "/login", login, "good-code", state)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("provider returned error", func(t *testing.T) {
		srv := newTestServer(t)
		login, state := startLogin(t, srv, "https://app.example.com/")
		require.NotEmpty(t, loginKeys(srv))

		rec := srv.do(t, http.MethodGet, "/login?error=access_denied", nil, func(r *http.Request) { r.AddCookie(login) })
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, loginKeys(srv), "refused handshake must not stay resumable")

		// The original state is useless afterwards.
		rec = callback(t, srv, "/login", login, "good-code", state)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestLogin_AlreadyAuthenticated(t *testing.T) {
	srv := newTestServer(t)
	issued := srv.session(t, "alice")

	rec := srv.do(t, http.MethodGet, "/login?rd="+url.QueryEscape("https://app.example.com/back"), nil, func(r *http.Request) {
		r.AddCookie(srv.sessionCookie(t, issued))
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://app.example.com/back", rec.Header().Get("Location"))
	assert.Nil(t, cookieNamed(rec, LoginCookieName))
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	issued := srv.session(t, "alice", "read:portal")
	sess := srv.sessionCookie(t, issued)

	rec := srv.do(t, http.MethodGet, "/logout?rd="+url.QueryEscape("https://app.example.com/bye"), nil, func(r *http.Request) {
		r.AddCookie(sess)
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://app.example.com/bye", rec.Header().Get("Location"))
	cleared := cookieNamed(rec, SessionCookieName)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	// The token is gone even if the old cookie is replayed.
	rec = srv.do(t, http.MethodGet, "/auth", nil, func(r *http.Request) { r.AddCookie(sess) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	t.Run("foreign redirect falls back to root", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/logout?rd="+url.QueryEscape("https://evil.example.net/"), nil, nil)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})
}
