// SPDX-FileCopyrightText: Copyright 2025 Carabiner Systems, Inc

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/carabiner-dev/podauth/pkg/client/browser"
)

// Client talks to the identity provider registration and token endpoints.
// Requests go through a browser.Fetcher so they leave from the page origin
// like the provider's own web client would.
type Client struct {
	Fetcher browser.Fetcher
}

// NewClient creates a new client issuing requests through f
func NewClient(f browser.Fetcher) *Client {
	return &Client{Fetcher: f}
}

// Register performs dynamic client registration and returns the client_id.
func (c *Client) Register(ctx context.Context, endpoint string, req *RegistrationRequest) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("%w: no registration endpoint", ErrRegistration)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding registration request: %w", err)
	}

	resp, err := c.Fetcher.Fetch(ctx, browser.FetchRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: string(body),
	})
	if err != nil {
		return "", fmt.Errorf("%w: sending request to %s: %w", ErrRegistration, endpoint, err)
	}

	if !resp.OK() {
		return "", fmt.Errorf("%w: %w", ErrRegistration, handleErrorResponse("registration", resp.Status, resp.Body))
	}

	var reg RegistrationResponse
	if err := json.Unmarshal([]byte(resp.Body), &reg); err != nil {
		return "", fmt.Errorf("%w: parsing response: %w: %s", ErrRegistration, err, resp.Body)
	}
	if reg.ClientID == "" {
		return "", fmt.Errorf("%w: no client_id in response: %s", ErrRegistration, resp.Body)
	}

	return reg.ClientID, nil
}

// ExchangeCode redeems an authorization code. Failures are reported in the
// returned result, never as a separate error.
func (c *Client) ExchangeCode(ctx context.Context, req *CodeExchangeRequest) *ExchangeResult {
	if err := validateRequest(req); err != nil {
		return &ExchangeResult{Error: fmt.Sprintf("invalid request: %v", err)}
	}

	formData := url.Values{}
	formData.Set("grant_type", GrantTypeAuthorizationCode)
	formData.Set("code", req.Code)
	formData.Set("redirect_uri", req.RedirectURI)
	formData.Set("client_id", req.ClientID)
	formData.Set("code_verifier", req.CodeVerifier)

	resp, err := c.Fetcher.Fetch(ctx, browser.FetchRequest{
		Method: http.MethodPost,
		URL:    req.TokenEndpoint,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: formData.Encode(),
	})
	if err != nil {
		return &ExchangeResult{Error: fmt.Sprintf("sending request to %s: %v", req.TokenEndpoint, err)}
	}

	if !resp.OK() {
		return &ExchangeResult{Error: handleErrorResponse("token exchange", resp.Status, resp.Body).Error()}
	}

	var tokens TokenSet
	if err := json.Unmarshal([]byte(resp.Body), &tokens); err != nil {
		return &ExchangeResult{Error: fmt.Sprintf("parsing response: %v", err)}
	}
	if tokens.AccessToken == "" {
		return &ExchangeResult{Error: "no access_token in response"}
	}

	return &ExchangeResult{Success: true, Tokens: &tokens}
}

// validateRequest validates the exchange request
func validateRequest(req *CodeExchangeRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("request is nil")
	case req.TokenEndpoint == "":
		return fmt.Errorf("token endpoint is required")
	case req.Code == "":
		return fmt.Errorf("authorization code is required")
	case req.ClientID == "":
		return fmt.Errorf("client_id is required")
	case req.CodeVerifier == "":
		return fmt.Errorf("code_verifier is required")
	}
	return nil
}

// handleErrorResponse parses and formats error responses
func handleErrorResponse(op string, statusCode int, body string) error {
	// Try to parse as OAuth error
	var errorResp ErrorResponse
	if err := json.Unmarshal([]byte(body), &errorResp); err == nil && errorResp.Error != "" {
		return fmt.Errorf("%s failed (HTTP %d): %s - %s",
			op, statusCode, errorResp.Error, errorResp.ErrorDescription)
	}

	// Fallback to generic error
	return fmt.Errorf("%s failed (HTTP %d): %s", op, statusCode, body)
}
