package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// DefaultStoreTimeout bounds the store lookup made for each auth
// subrequest.
const DefaultStoreTimeout = 2 * time.Second

// AuthRequest is one auth subrequest from the proxy.
type AuthRequest struct {
	Credential string
	Scopes     []string
	Satisfy    domain.Satisfy
}

// AuthorizeService answers auth subrequests. It is read-only: deciding
// never changes stored state.
type AuthorizeService struct {
	Tokens       *TokenService
	StoreTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Authorize returns the token behind req.Credential when it is valid and
// carries the required scopes. Validity failures are returned as-is so the
// caller can log them; all of them mean 401. A store failure also denies.
func (s *AuthorizeService) Authorize(ctx context.Context, req AuthRequest) (domain.TokenData, error) {
	timeout := s.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	required := domain.NormalizeSet(req.Scopes)
	satisfy := req.Satisfy
	if satisfy == "" {
		satisfy = domain.SatisfyAll
	}

	token, err := s.Tokens.Validate(ctx, req.Credential)
	if err != nil {
		if domain.IsValidityError(err) {
			s.Metrics.AuthDecision(metrics.ResultUnauthorized)
		} else {
			s.Metrics.AuthDecision(metrics.ResultError)
		}
		slogx.FromContext(ctx).Info("auth denied", slog.Any("reason", err))
		return domain.TokenData{}, err
	}

	log := slogx.FromContext(ctx).With(
		slog.String("token", token.ID),
		slog.String("user", token.Subject),
		slog.Any("scope", required),
	)
	if !satisfy.Satisfied(token.Scopes, required) {
		s.Metrics.AuthDecision(metrics.ResultForbidden)
		log.Info("auth forbidden", slog.String("satisfy", string(satisfy)))
		return token, fmt.Errorf("%w: requires %v (%s)", domain.ErrInsufficientScope, required, satisfy)
	}

	s.Metrics.AuthDecision(metrics.ResultAllow)
	log.Debug("auth allowed")
	return token, nil
}

// IsDenied reports whether err from Authorize should be answered with 401.
// Anything other than a scope failure denies authentication outright.
func IsDenied(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrInsufficientScope)
}
