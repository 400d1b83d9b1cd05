package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ScopeAdminToken grants the administrative token operations.
const ScopeAdminToken = "admin:token"

// CreateServiceToken mints a service token for any user.
// Requires: admin:token scope or the bootstrap token
func (s *Session) CreateServiceToken(ctx context.Context, req AdminTokenRequest) (*NewTokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}

	resp, err := s.doAuthRequest(
		ctx,
		http.MethodPost,
		"/auth/api/v1/admin/tokens",
		bytes.NewReader(body),
		headers,
		ScopeAdminToken,
	)
	if err != nil {
		return nil, err
	}

	var out NewTokenResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}

	return &out, nil
}
