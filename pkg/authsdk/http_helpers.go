package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// url builds a complete URL by appending the path to the base URL.
func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

// doRequest performs an HTTP request with the SDKClient's HTTP client.
// This is for unauthenticated requests (no Authorization header).
func (c *SDKClient) doRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers map[string]string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// doAuthRequest performs a request carrying the session token as a bearer
// credential, or the session cookies, after checking any required scopes.
func (s *Session) doAuthRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers map[string]string,
	requiredScopes ...string,
) (*http.Response, error) {
	if err := s.checkScopes(requiredScopes...); err != nil {
		return nil, err
	}

	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		h[k] = v
	}
	if s.token != "" {
		h["Authorization"] = "Bearer " + s.token
	} else if len(s.cookies) > 0 {
		pairs := make([]string, len(s.cookies))
		for i, c := range s.cookies {
			pairs[i] = (&http.Cookie{Name: c.Name, Value: c.Value}).String()
		}
		h["Cookie"] = strings.Join(pairs, "; ")

		// The gateway wants proof of origin on cookie requests that change state.
		if method != http.MethodGet && method != http.MethodHead {
			csrf, err := s.csrfToken(ctx)
			if err != nil {
				return nil, err
			}
			h["X-CSRF-Token"] = csrf
		}
	}

	return s.client.doRequest(ctx, method, path, body, h)
}

// decodeJSON decodes a JSON response into the target interface.
// Returns a typed *OAuth2Error if the status is not the expected one.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		return parseErrorResponse(resp, bodyBytes)
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
