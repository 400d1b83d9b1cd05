package provider_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/provider"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOIDC struct {
	srv       *httptest.Server
	key       *rsa.PrivateKey
	discovery atomic.Int32
	tokens    atomic.Int32
	down      atomic.Bool

	claims   jwt.MapClaims
	audience string
}

func newFakeOIDC(t *testing.T) *fakeOIDC {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeOIDC{key: key, audience: "client"}

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		f.discovery.Add(1)
		if f.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{
			"issuer":                                f.srv.URL,
			"authorization_endpoint":                f.srv.URL + "/authorize",
			"token_endpoint":                        f.srv.URL + "/token",
			"jwks_uri":                              f.srv.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		jwk, err := jwtx.NewJWK("idp-1", jwtx.AlgorithmRS256, &f.key.PublicKey)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, jwtx.JWKS{Keys: []jwtx.JWK{jwk}})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		f.tokens.Add(1)
		if r.FormValue("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "invalid_grant"})
			return
		}
		now := time.Now()
		claims := jwt.MapClaims{
			"iss": f.srv.URL,
			"aud": f.audience,
			"sub": "user-1",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		}
		for k, v := range f.claims {
			claims[k] = v
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "idp-1"
		signed, err := tok.SignedString(f.key)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     signed,
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOIDC) provider(t *testing.T, cfg provider.OIDCConfig) *provider.OIDC {
	t.Helper()
	cfg.Issuer = f.srv.URL
	cfg.ClientID = "client"
	cfg.ClientSecret = "secret"
	cfg.CallbackURL = "https://gw.example.com/login"
	cfg.HTTPClient = f.srv.Client()
	p, err := provider.NewOIDC(cfg)
	require.NoError(t, err)
	return p
}

func TestOIDC_Exchange(t *testing.T) {
	f := newFakeOIDC(t)
	f.claims = jwt.MapClaims{
		"preferred_username": "alice",
		"email":              "alice@example.com",
		"name":               "Alice",
		"uid_number":         1001,
		"groups": []any{
			"/admins",
			map[string]any{"name": "staff", "id": 7},
			"admins",
		},
	}
	p := f.provider(t, provider.OIDCConfig{UIDClaim: "uid_number"})

	id, err := p.Exchange(context.Background(), "good-code", "st", "st")
	require.NoError(t, err)
	require.Equal(t, "alice", id.Username)
	require.Equal(t, "alice@example.com", id.Email)
	require.Equal(t, "Alice", id.Name)
	require.Equal(t, "1001", id.UID)
	require.Equal(t, []string{"admins", "staff"}, id.Groups)
}

func TestOIDC_CustomUsernameClaim(t *testing.T) {
	f := newFakeOIDC(t)
	f.claims = jwt.MapClaims{"uid": "bob"}
	p := f.provider(t, provider.OIDCConfig{UsernameClaim: "uid"})

	id, err := p.Exchange(context.Background(), "good-code", "st", "st")
	require.NoError(t, err)
	require.Equal(t, "bob", id.Username)
	require.Equal(t, "user-1", id.UID, "uid defaults to sub")
	require.Empty(t, id.Groups)
}

func TestOIDC_StateMismatchSkipsUpstream(t *testing.T) {
	f := newFakeOIDC(t)
	p := f.provider(t, provider.OIDCConfig{})

	_, err := p.Exchange(context.Background(), "good-code", "forged", "st")
	require.ErrorIs(t, err, domain.ErrStateMismatch)
	require.Zero(t, f.discovery.Load())
	require.Zero(t, f.tokens.Load())
}

func TestOIDC_Failures(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		setup func(f *fakeOIDC)
	}{
		{"bad code", "bad-code", func(f *fakeOIDC) { f.claims = jwt.MapClaims{"preferred_username": "alice"} }},
		{"wrong audience", "good-code", func(f *fakeOIDC) {
			f.claims = jwt.MapClaims{"preferred_username": "alice"}
			f.audience = "someone-else"
		}},
		{"missing username", "good-code", func(f *fakeOIDC) {}},
		{"invalid username", "good-code", func(f *fakeOIDC) { f.claims = jwt.MapClaims{"preferred_username": "Alice Smith"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeOIDC(t)
			tt.setup(f)
			p := f.provider(t, provider.OIDCConfig{})
			_, err := p.Exchange(context.Background(), tt.code, "st", "st")
			require.ErrorIs(t, err, domain.ErrProviderError)
		})
	}
}

func TestOIDC_LazyDiscovery(t *testing.T) {
	f := newFakeOIDC(t)
	p := f.provider(t, provider.OIDCConfig{Scopes: []string{"email", "profile"}})

	require.Zero(t, f.discovery.Load(), "construction does not contact the provider")
	require.Empty(t, p.RedirectURL("sess", "st"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Prepare(context.Background()))
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, f.discovery.Load())

	require.NoError(t, p.Prepare(context.Background()))
	require.EqualValues(t, 1, f.discovery.Load())

	u, err := url.Parse(p.RedirectURL("sess", "st"))
	require.NoError(t, err)
	require.Equal(t, "/authorize", u.Path)
	require.Equal(t, "st", u.Query().Get("state"))
	require.Equal(t, "openid email profile", u.Query().Get("scope"))
}

func TestOIDC_DiscoveryRetriesAfterFailure(t *testing.T) {
	f := newFakeOIDC(t)
	f.down.Store(true)
	p := f.provider(t, provider.OIDCConfig{})

	err := p.Prepare(context.Background())
	require.ErrorIs(t, err, domain.ErrProviderError)

	f.down.Store(false)
	require.NoError(t, p.Prepare(context.Background()))
	require.NotEmpty(t, p.RedirectURL("", "st"))
}

func TestNewOIDC_RequiresIssuerAndClient(t *testing.T) {
	_, err := provider.NewOIDC(provider.OIDCConfig{ClientID: "x"})
	require.Error(t, err)
	_, err = provider.NewOIDC(provider.OIDCConfig{Issuer: "https://idp.example.com"})
	require.Error(t, err)
}
