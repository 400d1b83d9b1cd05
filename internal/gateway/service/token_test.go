package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestBuild_Rules(t *testing.T) {
	now := time.Now()
	parent := &domain.TokenData{
		ID:        "parent",
		Type:      domain.TokenTypeSession,
		Subject:   "alice",
		Scopes:    []string{"exec:notebook", "read:all"},
		ExpiresAt: now.Add(time.Hour),
	}
	deepest := *parent
	deepest.Depth = domain.MaxDelegationDepth

	tests := []struct {
		name    string
		spec    domain.TokenSpec
		wantErr error
	}{
		{"session ok", domain.TokenSpec{Type: domain.TokenTypeSession, Identity: domain.Identity{Username: "alice"}, TTL: time.Hour}, nil},
		{"bad username", domain.TokenSpec{Type: domain.TokenTypeSession, Identity: domain.Identity{Username: "Alice!"}, TTL: time.Hour}, domain.ErrInvalidRequest},
		{"zero ttl", domain.TokenSpec{Type: domain.TokenTypeSession, Identity: domain.Identity{Username: "alice"}}, domain.ErrBadExpires},
		{"session with parent", domain.TokenSpec{Type: domain.TokenTypeSession, Parent: parent, TTL: time.Minute}, domain.ErrInvalidRequest},
		{"user needs name", domain.TokenSpec{Type: domain.TokenTypeUser, Parent: parent, TTL: 30 * time.Minute}, domain.ErrInvalidRequest},
		{"user too short", domain.TokenSpec{Type: domain.TokenTypeUser, Parent: parent, TTL: time.Minute, TokenName: "x"}, domain.ErrBadExpires},
		{"user ok", domain.TokenSpec{Type: domain.TokenTypeUser, Parent: parent, TTL: 30 * time.Minute, TokenName: "x", Scopes: []string{"read:all"}}, nil},
		{"scope escalation", domain.TokenSpec{Type: domain.TokenTypeUser, Parent: parent, TTL: 30 * time.Minute, TokenName: "x", Scopes: []string{"exec:admin"}}, domain.ErrScopeNotSubset},
		{"outlives parent", domain.TokenSpec{Type: domain.TokenTypeUser, Parent: parent, TTL: 2 * time.Hour, TokenName: "x"}, domain.ErrTtlExceedsParent},
		{"notebook needs parent", domain.TokenSpec{Type: domain.TokenTypeNotebook, Identity: domain.Identity{Username: "alice"}, TTL: time.Minute}, domain.ErrInvalidRequest},
		{"internal needs service", domain.TokenSpec{Type: domain.TokenTypeInternal, Parent: parent, TTL: time.Minute}, domain.ErrInvalidRequest},
		{"too deep", domain.TokenSpec{Type: domain.TokenTypeNotebook, Parent: &deepest, TTL: time.Minute}, domain.ErrInvalidRequest},
		{"unknown type", domain.TokenSpec{Type: "bogus", Identity: domain.Identity{Username: "alice"}, TTL: time.Minute}, domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Build(tt.spec, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, data.ID, 22)
			require.Equal(t, "alice", data.Subject)
		})
	}
}

func TestBuild_ChildInheritsParentIdentity(t *testing.T) {
	now := time.Now()
	parent := &domain.TokenData{
		ID: "p", Type: domain.TokenTypeSession, Subject: "alice", Email: "alice@example.com",
		UID: "1001", Groups: []string{"staff"}, Scopes: []string{"read:all"}, ExpiresAt: now.Add(time.Hour),
	}
	data, err := Build(domain.TokenSpec{
		Type:     domain.TokenTypeInternal,
		Identity: domain.Identity{Username: "mallory"},
		Parent:   parent,
		Service:  "portal",
		TTL:      time.Minute,
	}, now)
	require.NoError(t, err)
	require.Equal(t, "alice", data.Subject)
	require.Equal(t, "alice@example.com", data.Email)
	require.Equal(t, "1001", data.UID)
	require.Equal(t, "p", data.Parent)
	require.Empty(t, data.Scopes)
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	issued := env.session(t, "alice", "read:all", "read:all", "exec:notebook")
	require.Equal(t, []string{"exec:notebook", "read:all"}, issued.Data.Scopes)

	got, err := env.tokens.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.Equal(t, issued.Data.ID, got.ID)
	require.Equal(t, "alice@example.com", got.Email)

	claims, err := env.tokens.Decode(issued.Token)
	require.NoError(t, err)
	require.Equal(t, issued.Data.ID, claims.ID)
	require.Equal(t, "session", claims.TokenType)
	require.Equal(t, issued.Data.Scopes, claims.Scopes)
}

func TestTokenService_ValidateFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issued := env.session(t, "alice")

	other, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: "https://gw.example.com", Algorithm: jwtx.AlgorithmEdDSA})
	require.NoError(t, err)
	foreign, err := (&TokenService{KeyManager: other}).Encode(issued.Data)
	require.NoError(t, err)

	expired := issued.Data
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	expiredTok, err := env.tokens.Encode(expired)
	require.NoError(t, err)

	unknown := issued.Data
	unknown.ID = "never-stored"
	unknownTok, err := env.tokens.Encode(unknown)
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"empty", "", domain.ErrNoCredential},
		{"garbage", "not.a.jwt", domain.ErrMalformed},
		{"foreign key", foreign, domain.ErrBadSignature},
		{"expired", expiredTok, domain.ErrExpired},
		{"not in store", unknownTok, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.tokens.Validate(ctx, tt.raw)
			require.ErrorIs(t, err, tt.wantErr)
			require.True(t, domain.IsValidityError(err))
		})
	}
}

func TestTokenService_DelegateUserToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.session(t, "alice", "read:all", "exec:notebook")

	child, err := env.tokens.Delegate(ctx, sess.Data, DelegateRequest{
		Type: domain.TokenTypeUser, Scopes: []string{"read:all"}, TTL: 30 * time.Minute, Name: "laptop",
	}, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, sess.Data.ID, child.Data.Parent)
	require.Equal(t, "laptop", child.Data.TokenName)

	_, err = env.tokens.Delegate(ctx, sess.Data, DelegateRequest{
		Type: domain.TokenTypeUser, TTL: 30 * time.Minute, Name: "laptop",
	}, "")
	require.ErrorIs(t, err, domain.ErrConflict, "names are unique per user")

	_, err = env.tokens.Delegate(ctx, child.Data, DelegateRequest{
		Type: domain.TokenTypeUser, TTL: 10 * time.Minute, Name: "nested",
	}, "")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = env.tokens.Delegate(ctx, sess.Data, DelegateRequest{
		Type: domain.TokenTypeUser, Scopes: []string{"exec:admin"}, TTL: 30 * time.Minute, Name: "greedy",
	}, "")
	require.ErrorIs(t, err, domain.ErrScopeNotSubset)

	_, err = env.tokens.Delegate(ctx, sess.Data, DelegateRequest{Type: domain.TokenTypeSession}, "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestTokenService_GetOrCreateReusesChild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.session(t, "alice", "read:all", "exec:notebook")

	first, err := env.tokens.Delegate(ctx, sess.Data, DelegateRequest{Type: domain.TokenTypeNotebook}, "")
	require.NoError(t, err)
	require.Equal(t, sess.Data.Scopes, first.Data.Scopes, "notebook inherits every scope")
	require.True(t, first.Data.ExpiresAt.Equal(sess.Data.ExpiresAt))

	second, err := env.tokens.Delegate(ctx, sess.Data, DelegateRequest{Type: domain.TokenTypeNotebook}, "")
	require.NoError(t, err)
	require.Equal(t, first.Data.ID, second.Data.ID)

	internal, err := env.tokens.Delegate(ctx, sess.Data, DelegateRequest{
		Type: domain.TokenTypeInternal, Service: "portal", Scopes: []string{"read:all"}, TTL: 10 * time.Minute,
	}, "")
	require.NoError(t, err)
	require.NotEqual(t, first.Data.ID, internal.Data.ID)
	require.Equal(t, "portal", internal.Data.Service)

	again, err := env.tokens.Delegate(ctx, sess.Data, DelegateRequest{
		Type: domain.TokenTypeInternal, Service: "portal", Scopes: []string{"read:all"},
	}, "")
	require.NoError(t, err)
	require.Equal(t, internal.Data.ID, again.Data.ID)

	other, err := env.tokens.Delegate(ctx, sess.Data, DelegateRequest{
		Type: domain.TokenTypeInternal, Service: "other", Scopes: []string{"read:all"},
	}, "")
	require.NoError(t, err)
	require.NotEqual(t, internal.Data.ID, other.Data.ID)

	// Reused tokens still validate.
	_, err = env.tokens.Validate(ctx, again.Token)
	require.NoError(t, err)
}

func TestTokenService_DelegationDepthBounded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.session(t, "alice", "read:all", "exec:notebook")

	chain := []domain.IssuedToken{}
	parent := sess.Data
	for i := 1; i <= domain.MaxDelegationDepth; i++ {
		child, err := env.tokens.Delegate(ctx, parent, DelegateRequest{Type: domain.TokenTypeNotebook}, "")
		require.NoError(t, err, "depth %d", i)
		require.Equal(t, i, child.Data.Depth)
		chain = append(chain, child)
		parent = child.Data
	}

	_, err := env.tokens.Delegate(ctx, parent, DelegateRequest{Type: domain.TokenTypeNotebook}, "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = env.tokens.Delegate(ctx, parent, DelegateRequest{
		Type: domain.TokenTypeInternal, Service: "portal", Scopes: []string{"read:all"},
	}, "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	revoked, err := env.tokens.Revoke(ctx, sess.Data, sess.Data.ID, "")
	require.NoError(t, err)
	require.Len(t, revoked, domain.MaxDelegationDepth+1)

	for i, c := range chain {
		_, err := env.tokens.Validate(ctx, c.Token)
		require.ErrorIs(t, err, domain.ErrNotFound, "depth %d", i+1)
	}
}

func TestTokenService_RevokeAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.session(t, "alice", "read:all")
	bob := env.session(t, "bob")
	admin := env.session(t, "root", domain.ScopeAdminToken)

	child, err := env.tokens.Delegate(ctx, alice.Data, DelegateRequest{Type: domain.TokenTypeNotebook}, "")
	require.NoError(t, err)

	_, err = env.tokens.Revoke(ctx, bob.Data, alice.Data.ID, "")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	revoked, err := env.tokens.Revoke(ctx, admin.Data, alice.Data.ID, "10.0.0.9")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{alice.Data.ID, child.Data.ID}, revoked)

	_, err = env.tokens.Validate(ctx, child.Token)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.tokens.Revoke(ctx, admin.Data, alice.Data.ID, "")
	require.ErrorIs(t, err, domain.ErrNotFound)

	history, err := env.tokens.ChangeHistory(ctx, alice.Data, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, domain.TokenChangeRevoke, history[0].Action)
	require.Equal(t, "root", history[0].Actor)
	require.Equal(t, "10.0.0.9", history[0].IPAddress)

	_, err = env.tokens.ChangeHistory(ctx, bob.Data, "alice", 0)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestTokenService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.session(t, "alice")
	env.session(t, "alice")
	bob := env.session(t, "bob")

	list, err := env.tokens.List(ctx, alice.Data, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)

	_, err = env.tokens.List(ctx, bob.Data, "alice")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestTokenService_DelegatedTokensCannotManageTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.session(t, "alice", "read:all")

	notebook, err := env.tokens.Delegate(ctx, alice.Data, DelegateRequest{Type: domain.TokenTypeNotebook}, "")
	require.NoError(t, err)
	internal, err := env.tokens.Delegate(ctx, notebook.Data, DelegateRequest{Type: domain.TokenTypeInternal, Service: "portal", Scopes: []string{"read:all"}}, "")
	require.NoError(t, err)

	for _, caller := range []domain.TokenData{notebook.Data, internal.Data} {
		t.Run(string(caller.Type), func(t *testing.T) {
			_, err := env.tokens.List(ctx, caller, "alice")
			require.ErrorIs(t, err, domain.ErrPermissionDenied)
			_, err = env.tokens.ChangeHistory(ctx, caller, "alice", 0)
			require.ErrorIs(t, err, domain.ErrPermissionDenied)
			_, err = env.tokens.Revoke(ctx, caller, alice.Data.ID, "")
			require.ErrorIs(t, err, domain.ErrPermissionDenied)
			_, err = env.tokens.Revoke(ctx, caller, caller.ID, "")
			require.ErrorIs(t, err, domain.ErrPermissionDenied)
		})
	}

	_, err = env.tokens.Validate(ctx, alice.Token)
	require.NoError(t, err, "session survives its delegates")

	list, err := env.tokens.List(ctx, alice.Data, "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestTokenService_IssueService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	boot, ok := Bootstrap{Token: "boot-secret"}.Match("boot-secret")
	require.True(t, ok)

	issued, err := env.tokens.IssueService(ctx, boot, "bot", []string{"read:all"}, time.Hour, "ci", "")
	require.NoError(t, err)
	require.Equal(t, domain.TokenTypeService, issued.Data.Type)
	require.Empty(t, issued.Data.Parent)

	history, err := env.history.ListBySubject(ctx, "bot", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, BootstrapUser, history[0].Actor)

	plain := env.session(t, "alice")
	_, err = env.tokens.IssueService(ctx, plain.Data, "bot", nil, time.Hour, "", "")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestTokenService_LifetimeBoundedByKeyRetention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clock := time.Now()
	now := func() time.Time { return clock }
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Issuer: "https://gw.example.com", Algorithm: jwtx.AlgorithmEdDSA, Now: now,
	})
	require.NoError(t, err)

	const retention = 7 * 24 * time.Hour
	tokens := &TokenService{KeyManager: km, Store: env.store, MaxLifetime: retention, Now: now}
	rotation := &KeyRotationService{KeyManager: km, Algorithm: jwtx.AlgorithmEdDSA, Retention: retention}

	boot, _ := Bootstrap{Token: "boot-secret"}.Match("boot-secret")
	_, err = tokens.IssueService(ctx, boot, "bot", nil, 30*24*time.Hour, "too-long", "")
	require.ErrorIs(t, err, domain.ErrBadExpires)

	longest, err := tokens.IssueService(ctx, boot, "bot", nil, retention, "longest", "")
	require.NoError(t, err)

	_, err = rotation.RotateKey(ctx)
	require.NoError(t, err)

	// Just before the token expires the retired key must still be there.
	clock = clock.Add(retention - time.Minute)
	km.Prune(clock)
	_, err = tokens.Validate(ctx, longest.Token)
	require.NoError(t, err)
}

func TestBootstrap_Match(t *testing.T) {
	_, ok := Bootstrap{}.Match("")
	require.False(t, ok)
	_, ok = Bootstrap{Token: "secret"}.Match("Secret")
	require.False(t, ok)

	tok, ok := Bootstrap{Token: "secret"}.Match("secret")
	require.True(t, ok)
	require.True(t, tok.HasScope(domain.ScopeAdminToken))
	require.False(t, domain.ValidUsername(tok.Subject))
}
