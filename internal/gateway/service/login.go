package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tollgate/internal/gateway/provider"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

const (
	DefaultSessionLifetime = 7 * 24 * time.Hour
	DefaultProviderTimeout = 20 * time.Second
)

// LoginService drives the browser login handshake:
//
//	START -> REDIRECTED -> CALLBACK_PENDING -> ESTABLISHED
//
// with FAILED reachable from every step. The handshake session is consumed
// before the provider is called, so a callback can succeed at most once.
type LoginService struct {
	Providers       map[string]provider.Provider
	DefaultProvider string

	Sessions store.Sessions
	Tokens   *TokenService
	Mapper   *ScopeMapper

	// Admins receive admin:token on every login.
	Admins []string
	// AllowedHosts are the hosts a login may return to.
	AllowedHosts []string

	SessionLifetime time.Duration
	LoginTTL        time.Duration
	ProviderTimeout time.Duration

	Metrics *metrics.Metrics
}

// LoginStart is the outcome of Start. The HTTP layer stores SessionID in
// the login cookie and redirects to RedirectURL.
type LoginStart struct {
	SessionID   string
	RedirectURL string
}

// LoginResult is an established login.
type LoginResult struct {
	Token     domain.IssuedToken
	ReturnURL string
}

// Provider resolves a provider by name. An empty name picks the default.
func (s *LoginService) Provider(name string) (provider.Provider, error) {
	if name == "" {
		name = s.DefaultProvider
	}
	p, ok := s.Providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidRequest, name)
	}
	return p, nil
}

// Start begins a handshake that returns to returnURL.
func (s *LoginService) Start(ctx context.Context, providerName, returnURL string) (LoginStart, error) {
	p, err := s.Provider(providerName)
	if err != nil {
		return LoginStart{}, err
	}
	if _, err := s.ValidateReturnURL(returnURL); err != nil {
		return LoginStart{}, err
	}

	if pr, ok := p.(provider.Preparer); ok {
		pctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
		err := pr.Prepare(pctx)
		cancel()
		if err != nil {
			return LoginStart{}, domain.AsTimeout(err)
		}
	}

	state, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return LoginStart{}, fmt.Errorf("generate login state: %w", err)
	}

	ttl := s.LoginTTL
	if ttl <= 0 {
		ttl = domain.DefaultLoginTTL
	}
	id, err := s.Sessions.Create(ctx, domain.LoginSession{
		CSRFState: state,
		ReturnURL: returnURL,
		Provider:  p.Name(),
	}, ttl)
	if err != nil {
		return LoginStart{}, domain.AsTimeout(fmt.Errorf("create login session: %w", err))
	}

	slogx.FromContext(ctx).Info("login started", slog.String("provider", p.Name()))
	return LoginStart{SessionID: id, RedirectURL: p.RedirectURL(id, state)}, nil
}

// Callback completes the handshake identified by sessionID.
func (s *LoginService) Callback(ctx context.Context, sessionID, code, state, ip string) (LoginResult, error) {
	log := slogx.FromContext(ctx)

	if sessionID == "" {
		s.Metrics.Login("", metrics.LoginStateMismatch)
		return LoginResult{}, fmt.Errorf("%w: no login session", domain.ErrStateMismatch)
	}
	sess, err := s.Sessions.Consume(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.Metrics.Login("", metrics.LoginStateMismatch)
		return LoginResult{}, fmt.Errorf("%w: login session expired or already used", domain.ErrStateMismatch)
	}
	if err != nil {
		s.Metrics.Login("", metrics.LoginError)
		return LoginResult{}, domain.AsTimeout(fmt.Errorf("consume login session: %w", err))
	}

	if state == "" || !cryptox.SecretEqual(state, sess.CSRFState) {
		s.Metrics.Login(sess.Provider, metrics.LoginStateMismatch)
		log.Warn("login state mismatch", slog.String("provider", sess.Provider))
		return LoginResult{}, domain.ErrStateMismatch
	}

	p, err := s.Provider(sess.Provider)
	if err != nil {
		s.Metrics.Login(sess.Provider, metrics.LoginError)
		return LoginResult{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	identity, err := p.Exchange(pctx, code, state, sess.CSRFState)
	cancel()
	if err != nil {
		err = domain.AsTimeout(err)
		result := metrics.LoginProviderError
		if errors.Is(err, domain.ErrTimeout) {
			result = metrics.LoginTimeout
		}
		s.Metrics.Login(p.Name(), result)
		log.Error("login failed", slog.String("provider", p.Name()), slog.Any("error", err))
		return LoginResult{}, err
	}

	scopes := s.Mapper.Map(identity.Groups)
	if slices.Contains(s.Admins, identity.Username) {
		scopes = domain.NormalizeSet(append(scopes, domain.ScopeAdminToken))
	}

	lifetime := s.SessionLifetime
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	issued, err := s.Tokens.Issue(ctx, domain.TokenSpec{
		Type:     domain.TokenTypeSession,
		Identity: identity,
		Scopes:   scopes,
		TTL:      lifetime,
	}, identity.Username, ip)
	if err != nil {
		s.Metrics.Login(p.Name(), metrics.LoginError)
		return LoginResult{}, err
	}

	s.Metrics.Login(p.Name(), metrics.LoginSuccess)
	log.Info("login established",
		slog.String("provider", p.Name()),
		slog.String("user", identity.Username),
		slog.Any("scope", scopes),
	)
	return LoginResult{Token: issued, ReturnURL: sess.ReturnURL}, nil
}

// Abort ends a handshake the provider refused, deleting its session so the
// half-completed login cannot be resumed. The returned error always wraps
// ErrProviderError.
func (s *LoginService) Abort(ctx context.Context, sessionID, reason string) error {
	providerName := ""
	if sessionID != "" {
		sess, err := s.Sessions.Consume(ctx, sessionID)
		switch {
		case err == nil:
			providerName = sess.Provider
		case !errors.Is(err, store.ErrNotFound):
			slogx.FromContext(ctx).Error("failed to delete login session", slog.Any("error", err))
		}
	}
	s.Metrics.Login(providerName, metrics.LoginProviderError)
	slogx.FromContext(ctx).Warn("identity provider refused login",
		slog.String("provider", providerName),
		slog.String("reason", reason),
	)
	return fmt.Errorf("%w: %s", domain.ErrProviderError, reason)
}

// ValidateReturnURL accepts only absolute http(s) URLs on an allowed host.
func (s *LoginService) ValidateReturnURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing return URL", domain.ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: return URL must be absolute", domain.ErrInvalidRequest)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: return URL scheme %q not allowed", domain.ErrInvalidRequest, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !slices.ContainsFunc(s.AllowedHosts, func(h string) bool { return strings.EqualFold(h, host) }) {
		return nil, fmt.Errorf("%w: return URL host %q not allowed", domain.ErrInvalidRequest, host)
	}
	return u, nil
}

func (s *LoginService) providerTimeout() time.Duration {
	if s.ProviderTimeout > 0 {
		return s.ProviderTimeout
	}
	return DefaultProviderTimeout
}
