package authsdk

import (
	"context"
	"net/http"
)

// RotateKey replaces the active signing key. The previous key keeps
// verifying until its retention window ends.
// Requires: admin:token scope
func (s *Session) RotateKey(ctx context.Context) (*RotateKeyResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/auth/api/v1/admin/keys/rotate", nil, nil, ScopeAdminToken)
	if err != nil {
		return nil, err
	}

	var rotateResp RotateKeyResponse
	if err := decodeJSON(resp, &rotateResp, http.StatusOK); err != nil {
		return nil, err
	}

	return &rotateResp, nil
}

// ListKeys returns all signing keys with their status.
// Requires: admin:token scope
func (s *Session) ListKeys(ctx context.Context) ([]SigningKeyInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/auth/api/v1/admin/keys", nil, nil, ScopeAdminToken)
	if err != nil {
		return nil, err
	}

	var keys []SigningKeyInfo
	if err := decodeJSON(resp, &keys, http.StatusOK); err != nil {
		return nil, err
	}

	return keys, nil
}
