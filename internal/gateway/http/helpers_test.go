package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tollgate/internal/gateway/provider"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	redisstore "github.com/aussiebroadwan/tollgate/internal/gateway/store/drivers/redis"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testRealm     = "gw.example.com"
	testBootstrap = "bootstrap-secret-value"
)

type fakeProvider struct {
	identity domain.Identity
	err      error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) RedirectURL(_, state string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code, state, expected string) (domain.Identity, error) {
	if state != expected {
		return domain.Identity{}, domain.ErrStateMismatch
	}
	if p.err != nil {
		return domain.Identity{}, p.err
	}
	if code != "good-code" {
		return domain.Identity{}, domain.ErrProviderError
	}
	return p.identity, nil
}

type testServer struct {
	mr       *miniredis.Miniredis
	km       *jwtx.KeyManager
	tokens   *service.TokenService
	provider *fakeProvider
	metrics  *metrics.Metrics
	router   *Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	st := redisstore.NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = st.Close() })

	hist, err := sqlite.NewHistoryStore("file:" + filepath.Join(t.TempDir(), "history.db") + "?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })
	require.NoError(t, hist.ApplyMigrations())

	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: "https://gw.example.com", Algorithm: jwtx.AlgorithmEdDSA})
	require.NoError(t, err)

	m := metrics.New()
	tokens := &service.TokenService{KeyManager: km, Store: st, History: hist, Metrics: m, MaxLifetime: 24 * time.Hour}
	fp := &fakeProvider{identity: domain.Identity{
		Username: "alice",
		Email:    "alice@example.com",
		UID:      "1001",
		Groups:   []string{"staff"},
	}}

	cookies, err := NewCookies([]byte("0123456789abcdef0123456789abcdef"), false)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(km, "test", st, hist, logger)
	r.Realm = testRealm
	r.Cookies = cookies
	r.Metrics = m
	r.TokenService = tokens
	r.AuthorizeService = &service.AuthorizeService{Tokens: tokens, Metrics: m}
	r.LoginService = &service.LoginService{
		Providers:       map[string]provider.Provider{"fake": fp},
		DefaultProvider: "fake",
		Sessions:        st.Sessions(),
		Tokens:          tokens,
		Mapper:          service.NewScopeMapper(domain.GroupMapping{"read:portal": {"staff"}}),
		Admins:          []string{"root"},
		AllowedHosts:    []string{"app.example.com"},
		SessionLifetime: time.Hour,
		ProviderTimeout: time.Second,
		Metrics:         m,
	}
	r.KeyRotationService = &service.KeyRotationService{KeyManager: km, Algorithm: jwtx.AlgorithmEdDSA, Metrics: m}
	r.Bootstrap = service.Bootstrap{Token: testBootstrap}
	r.ApplyRoutes()

	return &testServer{mr: mr, km: km, tokens: tokens, provider: fp, metrics: m, router: r}
}

// session mints a session token directly through the token service.
func (s *testServer) session(t *testing.T, username string, scopes ...string) domain.IssuedToken {
	t.Helper()
	issued, err := s.tokens.Issue(context.Background(), domain.TokenSpec{
		Type: domain.TokenTypeSession,
		Identity: domain.Identity{
			Username: username,
			Email:    username + "@example.com",
			UID:      "42",
			Groups:   []string{"g1", "g2"},
		},
		Scopes: scopes,
		TTL:    time.Hour,
	}, username, "10.0.0.1")
	require.NoError(t, err)
	return issued
}

func (s *testServer) do(t *testing.T, method, target string, body any, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// sessionCookie seals issued into the cookie a browser would present.
func (s *testServer) sessionCookie(t *testing.T, issued domain.IssuedToken) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, s.router.Cookies.SetSession(rec, issued.Token, issued.Data.ExpiresAt))
	c := cookieNamed(rec, SessionCookieName)
	require.NotNil(t, c)
	return c
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func basic(user, pass string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
