package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// TokenService mints, validates and revokes tokens. Every token is both a
// signed JWT and a store record keyed by its jti; validation needs both.
type TokenService struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	// History is optional; without it changes are only logged.
	History store.History
	Metrics *metrics.Metrics

	// MaxLifetime caps every token's lifetime. It is set to the signing key
	// retention so a token never outlives the key that verifies it. Zero
	// means no cap.
	MaxLifetime time.Duration

	// Now overrides the clock (tests only).
	Now func() time.Time
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Build checks spec against the token rules and the delegation invariant
// and returns the record to store. It never clamps: a child that asks for
// more than its parent is refused.
func Build(spec domain.TokenSpec, now time.Time) (domain.TokenData, error) {
	id := spec.Identity
	if spec.Parent != nil {
		// Delegated tokens always belong to the parent's user.
		id = spec.Parent.Identity()
	}
	if !domain.ValidUsername(id.Username) {
		return domain.TokenData{}, fmt.Errorf("%w: invalid username %q", domain.ErrInvalidRequest, id.Username)
	}

	expires := spec.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(spec.TTL)
	}
	if !expires.After(now) {
		return domain.TokenData{}, domain.ErrBadExpires
	}

	scopes := domain.NormalizeSet(spec.Scopes)

	switch spec.Type {
	case domain.TokenTypeSession, domain.TokenTypeService:
		if spec.Parent != nil {
			return domain.TokenData{}, fmt.Errorf("%w: %s tokens cannot be delegated", domain.ErrInvalidRequest, spec.Type)
		}
	case domain.TokenTypeUser:
		if spec.TokenName == "" {
			return domain.TokenData{}, fmt.Errorf("%w: user tokens need a name", domain.ErrInvalidRequest)
		}
		if expires.Sub(now) < domain.MinUserTokenLifetime {
			return domain.TokenData{}, fmt.Errorf("%w: user tokens must live at least %s", domain.ErrBadExpires, domain.MinUserTokenLifetime)
		}
	case domain.TokenTypeNotebook:
		if spec.Parent == nil {
			return domain.TokenData{}, fmt.Errorf("%w: notebook tokens need a parent", domain.ErrInvalidRequest)
		}
	case domain.TokenTypeInternal:
		if spec.Parent == nil || spec.Service == "" {
			return domain.TokenData{}, fmt.Errorf("%w: internal tokens need a parent and a service", domain.ErrInvalidRequest)
		}
	default:
		return domain.TokenData{}, fmt.Errorf("%w: unknown token type %q", domain.ErrInvalidRequest, spec.Type)
	}

	parent, depth := "", 0
	if p := spec.Parent; p != nil {
		depth = p.Depth + 1
		if depth > domain.MaxDelegationDepth {
			return domain.TokenData{}, fmt.Errorf("%w: delegation chain deeper than %d", domain.ErrInvalidRequest, domain.MaxDelegationDepth)
		}
		if !domain.IsSubset(scopes, p.Scopes) {
			return domain.TokenData{}, domain.ErrScopeNotSubset
		}
		if expires.After(p.ExpiresAt) {
			return domain.TokenData{}, domain.ErrTtlExceedsParent
		}
		parent = p.ID
	}

	tokenID, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.TokenData{}, fmt.Errorf("generate token id: %w", err)
	}

	return domain.TokenData{
		ID:        tokenID,
		Type:      spec.Type,
		Subject:   id.Username,
		Scopes:    scopes,
		Groups:    domain.NormalizeSet(id.Groups),
		IssuedAt:  now.UTC(),
		ExpiresAt: expires.UTC(),
		Parent:    parent,
		Depth:     depth,
		TokenName: spec.TokenName,
		Service:   spec.Service,
		Email:     id.Email,
		Name:      id.Name,
		UID:       id.UID,
	}, nil
}

// Issue builds, stores and signs a token, then records the change.
func (s *TokenService) Issue(ctx context.Context, spec domain.TokenSpec, actor, ip string) (domain.IssuedToken, error) {
	now := s.now()
	data, err := Build(spec, now)
	if err != nil {
		return domain.IssuedToken{}, err
	}
	if s.MaxLifetime > 0 && data.ExpiresAt.Sub(now) > s.MaxLifetime {
		return domain.IssuedToken{}, fmt.Errorf("%w: lifetime may not exceed %s", domain.ErrBadExpires, s.MaxLifetime)
	}

	if data.Type == domain.TokenTypeUser {
		if err := s.checkNameFree(ctx, data.Subject, data.TokenName); err != nil {
			return domain.IssuedToken{}, err
		}
	}

	if err := s.Store.Tokens().Create(ctx, data, data.ExpiresAt.Sub(now)); err != nil {
		return domain.IssuedToken{}, mapStoreError(err)
	}

	signed, err := s.Encode(data)
	if err != nil {
		return domain.IssuedToken{}, err
	}

	s.Metrics.TokenIssued(string(data.Type))
	s.record(ctx, domain.NewTokenChangeEntry(data, domain.TokenChangeCreate, actor, ip, now))
	slogx.FromContext(ctx).Info("token issued",
		slog.String("token", data.ID),
		slog.String("user", data.Subject),
		slog.String("type", string(data.Type)),
		slog.String("actor", actor),
	)
	return domain.IssuedToken{Data: data, Token: signed}, nil
}

func (s *TokenService) checkNameFree(ctx context.Context, subject, name string) error {
	existing, err := s.Store.Tokens().ListBySubject(ctx, subject)
	if err != nil {
		return domain.AsTimeout(fmt.Errorf("list tokens: %w", err))
	}
	for _, t := range existing {
		if t.Type == domain.TokenTypeUser && t.TokenName == name {
			return fmt.Errorf("%w: token name %q already used", domain.ErrConflict, name)
		}
	}
	return nil
}

// Encode signs the JWT form of t.
func (s *TokenService) Encode(t domain.TokenData) (string, error) {
	claims := jwtx.NewClaims(
		t.ID, string(t.Type), t.Subject, s.KeyManager.Issuer(),
		t.Scopes, t.Groups, t.Parent,
		t.IssuedAt, t.ExpiresAt,
	)
	signed, err := s.KeyManager.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of raw. It does not consult the
// store.
func (s *TokenService) Decode(raw string) (jwtx.Claims, error) {
	claims, err := s.KeyManager.Verify(raw)
	if err == nil {
		return claims, nil
	}
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return jwtx.Claims{}, fmt.Errorf("%w: %w", domain.ErrExpired, err)
	case errors.Is(err, jwtx.ErrInvalidSig),
		errors.Is(err, jwtx.ErrUnknownKID),
		errors.Is(err, jwtx.ErrAlgMismatch),
		errors.Is(err, jwtx.ErrIssuer),
		errors.Is(err, jwtx.ErrAudience):
		return jwtx.Claims{}, fmt.Errorf("%w: %w", domain.ErrBadSignature, err)
	default:
		return jwtx.Claims{}, fmt.Errorf("%w: %w", domain.ErrMalformed, err)
	}
}

// Validate decodes raw and loads its record. A token is valid only while
// its record exists, so revocation takes effect on the next call.
func (s *TokenService) Validate(ctx context.Context, raw string) (domain.TokenData, error) {
	if raw == "" {
		return domain.TokenData{}, domain.ErrNoCredential
	}
	claims, err := s.Decode(raw)
	if err != nil {
		return domain.TokenData{}, err
	}

	data, err := s.Store.Tokens().Get(ctx, claims.ID)
	if err != nil {
		return domain.TokenData{}, mapStoreError(err)
	}
	if data.Subject != claims.Subject {
		return domain.TokenData{}, fmt.Errorf("%w: subject does not match record", domain.ErrBadSignature)
	}
	if data.Expired(s.now()) {
		return domain.TokenData{}, domain.ErrExpired
	}
	return data, nil
}

// DelegateRequest asks for a child of the caller's token.
type DelegateRequest struct {
	Type    domain.TokenType
	Scopes  []string
	TTL     time.Duration
	Name    string
	Service string
}

// Delegate mints a child token of caller. User tokens need a session
// parent and expire with it unless req.TTL is set. Notebook and internal
// tokens reuse a matching live child when one exists. Notebook tokens
// inherit every parent scope.
func (s *TokenService) Delegate(ctx context.Context, caller domain.TokenData, req DelegateRequest, ip string) (domain.IssuedToken, error) {
	switch req.Type {
	case domain.TokenTypeUser:
		if caller.Type != domain.TokenTypeSession {
			return domain.IssuedToken{}, fmt.Errorf("%w: user tokens can only be created from a session", domain.ErrPermissionDenied)
		}
		spec := domain.TokenSpec{
			Type:      domain.TokenTypeUser,
			Scopes:    req.Scopes,
			TTL:       req.TTL,
			Parent:    &caller,
			TokenName: req.Name,
		}
		if req.TTL <= 0 {
			spec.ExpiresAt = caller.ExpiresAt
		}
		return s.Issue(ctx, spec, caller.Subject, ip)

	case domain.TokenTypeNotebook:
		return s.GetOrCreateChild(ctx, caller, domain.TokenTypeNotebook, "", caller.Scopes, req.TTL, ip)

	case domain.TokenTypeInternal:
		return s.GetOrCreateChild(ctx, caller, domain.TokenTypeInternal, req.Service, req.Scopes, req.TTL, ip)

	default:
		return domain.IssuedToken{}, fmt.Errorf("%w: cannot delegate a %q token", domain.ErrInvalidRequest, req.Type)
	}
}

// GetOrCreateChild returns a live child of parent with the same type,
// service and scopes, minting one only when none has at least the minimum
// lifetime left. New children expire with the parent unless ttl is
// shorter.
func (s *TokenService) GetOrCreateChild(
	ctx context.Context,
	parent domain.TokenData,
	tokenType domain.TokenType,
	service string,
	scopes []string,
	ttl time.Duration,
	ip string,
) (domain.IssuedToken, error) {
	scopes = domain.NormalizeSet(scopes)
	now := s.now()

	children, err := s.Store.Tokens().ListChildren(ctx, parent.ID)
	if err != nil {
		return domain.IssuedToken{}, domain.AsTimeout(fmt.Errorf("list children: %w", err))
	}
	for _, c := range children {
		if c.Type != tokenType || c.Service != service || !slices.Equal(c.Scopes, scopes) {
			continue
		}
		if c.TTL(now) < domain.MinUserTokenLifetime {
			continue
		}
		signed, err := s.Encode(c)
		if err != nil {
			return domain.IssuedToken{}, err
		}
		return domain.IssuedToken{Data: c, Token: signed}, nil
	}

	expires := parent.ExpiresAt
	if ttl > 0 && now.Add(ttl).Before(expires) {
		expires = now.Add(ttl)
	}
	return s.Issue(ctx, domain.TokenSpec{
		Type:      tokenType,
		Scopes:    scopes,
		ExpiresAt: expires,
		Parent:    &parent,
		Service:   service,
	}, parent.Subject, ip)
}

// IssueService mints an admin-requested service token for any user. It
// has no parent; ttl is bounded by MaxLifetime.
func (s *TokenService) IssueService(ctx context.Context, actor domain.TokenData, username string, scopes []string, ttl time.Duration, name, ip string) (domain.IssuedToken, error) {
	if !actor.HasScope(domain.ScopeAdminToken) {
		return domain.IssuedToken{}, domain.ErrPermissionDenied
	}
	return s.Issue(ctx, domain.TokenSpec{
		Type:      domain.TokenTypeService,
		Identity:  domain.Identity{Username: username},
		Scopes:    scopes,
		TTL:       ttl,
		TokenName: name,
	}, actor.Subject, ip)
}

// List returns username's live tokens. Callers may list their own tokens;
// admins may list anyone's.
func (s *TokenService) List(ctx context.Context, caller domain.TokenData, username string) ([]domain.TokenData, error) {
	if err := authorizeOwner(caller, username); err != nil {
		return nil, err
	}
	tokens, err := s.Store.Tokens().ListBySubject(ctx, username)
	if err != nil {
		return nil, domain.AsTimeout(fmt.Errorf("list tokens: %w", err))
	}
	return tokens, nil
}

// Revoke removes id and its descendants. The caller must own the token
// through a session or hold admin:token. It returns every id removed.
func (s *TokenService) Revoke(ctx context.Context, caller domain.TokenData, id, ip string) ([]string, error) {
	target, err := s.Store.Tokens().Get(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if err := authorizeOwner(caller, target.Subject); err != nil {
		return nil, err
	}

	revoked, err := s.Store.Tokens().Revoke(ctx, id)
	if err != nil {
		return revoked, mapStoreError(err)
	}

	s.Metrics.TokensRevoked(len(revoked))
	s.record(ctx, domain.NewTokenChangeEntry(target, domain.TokenChangeRevoke, caller.Subject, ip, s.now()))
	slogx.FromContext(ctx).Info("token revoked",
		slog.String("token", id),
		slog.String("user", target.Subject),
		slog.String("actor", caller.Subject),
		slog.Int("cascade", len(revoked)-1),
	)
	return revoked, nil
}

// ChangeHistory lists username's token changes, newest first.
func (s *TokenService) ChangeHistory(ctx context.Context, caller domain.TokenData, username string, limit int) ([]domain.TokenChangeEntry, error) {
	if err := authorizeOwner(caller, username); err != nil {
		return nil, err
	}
	if s.History == nil {
		return []domain.TokenChangeEntry{}, nil
	}
	entries, err := s.History.ListBySubject(ctx, username, limit)
	if err != nil {
		return nil, domain.AsTimeout(fmt.Errorf("list history: %w", err))
	}
	return entries, nil
}

func (s *TokenService) record(ctx context.Context, e domain.TokenChangeEntry) {
	if s.History == nil {
		return
	}
	// A failed audit write must not undo a token change that already
	// happened in the store.
	if err := s.History.Add(context.WithoutCancel(ctx), e); err != nil {
		slogx.FromContext(ctx).Error("failed to record token change",
			slog.String("token", e.TokenID),
			slog.String("action", string(e.Action)),
			slog.Any("error", err),
		)
	}
}

// authorizeOwner admits admins, and the user themselves when calling with
// a session token. Delegated tokens act on behalf of a user but may not
// manage that user's tokens.
func authorizeOwner(caller domain.TokenData, username string) error {
	if caller.HasScope(domain.ScopeAdminToken) {
		return nil
	}
	if caller.Subject != username {
		return domain.ErrPermissionDenied
	}
	if caller.Type != domain.TokenTypeSession {
		return fmt.Errorf("%w: %s tokens cannot manage tokens", domain.ErrPermissionDenied, caller.Type)
	}
	return nil
}

// mapStoreError converts store sentinels to the domain taxonomy.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case errors.Is(err, store.ErrInvalidTTL):
		return fmt.Errorf("%w: %w", domain.ErrExpired, err)
	default:
		return domain.AsTimeout(err)
	}
}
