package authsdk

import (
	"context"
	"fmt"
	"net/http"
)

// GetTokenInfo returns the record of the session token.
func (s *Session) GetTokenInfo(ctx context.Context) (*TokenInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/auth/api/v1/token-info", nil, nil)
	if err != nil {
		return nil, err
	}

	var info TokenInfo
	if err := decodeJSON(resp, &info, http.StatusOK); err != nil {
		return nil, err
	}

	return &info, nil
}

// GetUserInfo returns the identity carried by the session token.
func (s *Session) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/auth/api/v1/user-info", nil, nil)
	if err != nil {
		return nil, err
	}

	var userInfo UserInfo
	if err := decodeJSON(resp, &userInfo, http.StatusOK); err != nil {
		return nil, err
	}

	return &userInfo, nil
}

// GetLoginInfo returns the browser session behind a cookie session, with
// its CSRF token. Bearer sessions get a 401.
func (s *Session) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/auth/api/v1/login", nil, nil)
	if err != nil {
		return nil, err
	}

	var info LoginInfo
	if err := decodeJSON(resp, &info, http.StatusOK); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.csrf = info.CSRF
	s.mu.Unlock()
	return &info, nil
}

// csrfToken returns the cached CSRF token, loading it on first use.
func (s *Session) csrfToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.csrf
	s.mu.RUnlock()
	if tok != "" {
		return tok, nil
	}
	info, err := s.GetLoginInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch CSRF token: %w", err)
	}
	return info.CSRF, nil
}
