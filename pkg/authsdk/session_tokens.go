package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CreateToken mints a token delegated from the session token.
func (s *Session) CreateToken(ctx context.Context, req CreateTokenRequest) (*NewTokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}

	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/auth/api/v1/tokens", bytes.NewReader(body), headers)
	if err != nil {
		return nil, err
	}

	var out NewTokenResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListTokens lists username's live tokens. Listing another user's tokens
// requires admin:token.
func (s *Session) ListTokens(ctx context.Context, username string) ([]TokenInfo, error) {
	path := "/auth/api/v1/users/" + url.PathEscape(username) + "/tokens"
	resp, err := s.doAuthRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var tokens []TokenInfo
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}

	return tokens, nil
}

// RevokeToken revokes a token and everything delegated from it.
func (s *Session) RevokeToken(ctx context.Context, id string) (*RevokeTokenResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/auth/api/v1/tokens/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}

	var out RevokeTokenResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetTokenChangeHistory lists username's token changes, newest first. A
// limit of zero uses the server default.
func (s *Session) GetTokenChangeHistory(ctx context.Context, username string, limit int) ([]TokenChangeEntry, error) {
	path := "/auth/api/v1/users/" + url.PathEscape(username) + "/token-change-history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := s.doAuthRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var entries []TokenChangeEntry
	if err := decodeJSON(resp, &entries, http.StatusOK); err != nil {
		return nil, err
	}

	return entries, nil
}
