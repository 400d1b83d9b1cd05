package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

// ErrNotReady is wrapped by GetReadiness when /readyz answers 503.
var ErrNotReady = errors.New("gateway not ready")

// GetJWKS fetches the keys the gateway signs tokens with. Keys retired by a
// rotation stay published until the key retention window closes, so tokens
// signed before the rotation still resolve.
func (c *SDKClient) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	if err != nil {
		return nil, err
	}

	var jwks JWKSResponse
	if err := decodeJSON(resp, &jwks, http.StatusOK); err != nil {
		return nil, err
	}
	return &jwks, nil
}

// VerificationKey returns the published key with the given kid, as found in
// a token header. A kid missing from the set means the key was pruned or
// never belonged to this gateway.
func (c *SDKClient) VerificationKey(ctx context.Context, kid string) (jwtx.JWK, error) {
	jwks, err := c.GetJWKS(ctx)
	if err != nil {
		return jwtx.JWK{}, err
	}
	key, ok := jwtx.JWKS(*jwks).Find(kid)
	if !ok {
		return jwtx.JWK{}, fmt.Errorf("kid %q not published by the gateway", kid)
	}
	return key, nil
}

// GetLiveness calls /livez, which answers while the process runs and never
// consults Redis.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/livez", nil, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetReadiness calls /readyz. The gateway answers 503 when Redis or the
// signer is unavailable; the report is still returned, with an error
// wrapping ErrNotReady, so callers can see which check failed. A failing
// history database only marks the report degraded.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/readyz", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, parseErrorResponse(resp, body)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return &health, fmt.Errorf("%w: status %s", ErrNotReady, health.Status)
	}
	return &health, nil
}
