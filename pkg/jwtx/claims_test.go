package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "tollgate"},
	}

	t.Run("matching issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer("tollgate"))
	})

	t.Run("empty expected issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer(""))
	})

	t.Run("mismatched issuer", func(t *testing.T) {
		require.ErrorIs(t, c.ValidateIssuer("someone-else"), jwtx.ErrIssuer)
	})
}

func TestValidateAudience(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Audience: []string{"portal", "notebooks"}},
	}

	require.NoError(t, c.ValidateAudience(nil))
	require.NoError(t, c.ValidateAudience([]string{"foo", "notebooks"}))
	require.ErrorIs(t, c.ValidateAudience([]string{"admin"}), jwtx.ErrAudience)
}

func TestValidateExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		exp     *jwt.NumericDate
		wantErr error
	}{
		{"in the future", jwt.NewNumericDate(now.Add(time.Minute)), nil},
		{"exactly now", jwt.NewNumericDate(now), jwtx.ErrExpired},
		{"in the past", jwt.NewNumericDate(now.Add(-time.Minute)), jwtx.ErrExpired},
		{"missing", nil, jwtx.ErrInvalidClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: tt.exp}}
			err := c.ValidateExpiry(now)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewClaims(t *testing.T) {
	now := time.Now()
	c := jwtx.NewClaims("abc", "user", "alice", "tollgate",
		[]string{"read:all"}, []string{"team-x"}, "parent-id", now, now.Add(time.Hour))

	require.Equal(t, "abc", c.ID)
	require.Equal(t, "alice", c.Subject)
	require.Equal(t, "tollgate", c.Issuer)
	require.Equal(t, "user", c.TokenType)
	require.Equal(t, "parent-id", c.Parent)
	require.True(t, c.HasScope("read:all"))
	require.False(t, c.HasScope("exec:admin"))
	require.NotNil(t, c.ExpiresAt)
}
