package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	redisstore "github.com/aussiebroadwan/tollgate/internal/gateway/store/drivers/redis"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	mr      *miniredis.Miniredis
	store   *redisstore.Store
	history *sqlite.HistoryStore
	km      *jwtx.KeyManager
	tokens  *TokenService
}

func newTestEnv(t *testing.T) *testEnv {
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

	return &testEnv{
		mr:      mr,
		store:   st,
		history: hist,
		km:      km,
		tokens:  &TokenService{KeyManager: km, Store: st, History: hist},
	}
}

// session mints a session token for username with scopes.
func (e *testEnv) session(t *testing.T, username string, scopes ...string) domain.IssuedToken {
	t.Helper()
	issued, err := e.tokens.Issue(context.Background(), domain.TokenSpec{
		Type:     domain.TokenTypeSession,
		Identity: domain.Identity{Username: username, Email: username + "@example.com", Groups: []string{"staff"}},
		Scopes:   scopes,
		TTL:      time.Hour,
	}, username, "10.0.0.1")
	require.NoError(t, err)
	return issued
}
