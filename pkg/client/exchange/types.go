// SPDX-FileCopyrightText: Copyright 2025 Carabiner Systems, Inc

package exchange

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	ResponseTypeCode           = "code"

	// AuthMethodNone registers a public client, the code verifier stands
	// in for a secret.
	AuthMethodNone = "none"
)

var (
	// ErrRegistration is returned when dynamic client registration fails.
	ErrRegistration = errors.New("client registration failed")

	// ErrExchange is returned when the code for token exchange fails.
	ErrExchange = errors.New("token exchange failed")
)

// RegistrationRequest is the dynamic client registration body (RFC 7591).
type RegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	ResponseTypes           []string `json:"response_types"`
	GrantTypes              []string `json:"grant_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// NewRegistrationRequest builds the registration body for a public client
// with a single redirect URI.
func NewRegistrationRequest(clientName, redirectURI, scope string) *RegistrationRequest {
	return &RegistrationRequest{
		ClientName:              clientName,
		RedirectURIs:            []string{redirectURI},
		ResponseTypes:           []string{ResponseTypeCode},
		GrantTypes:              []string{GrantTypeAuthorizationCode},
		Scope:                   scope,
		TokenEndpointAuthMethod: AuthMethodNone,
	}
}

// RegistrationResponse is the subset of the registration reply we use.
type RegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// CodeExchangeRequest holds what is needed to redeem an authorization code.
type CodeExchangeRequest struct {
	TokenEndpoint string
	Code          string
	ClientID      string
	CodeVerifier  string
	RedirectURI   string
}

// TokenSet is the token endpoint reply.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// OAuth2Token converts the set to an oauth2.Token with its expiry computed
// from issuedAt.
func (t *TokenSet) OAuth2Token(issuedAt time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
	}
	if t.ExpiresIn > 0 {
		tok.Expiry = issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]any{
		"id_token": t.IDToken,
		"scope":    t.Scope,
	})
}

// ExchangeResult is the outcome of a code exchange. Exactly one of Tokens
// and Error is set.
type ExchangeResult struct {
	Success bool
	Tokens  *TokenSet
	Error   string
}

// Err returns the failure as an error wrapping ErrExchange, or nil.
func (r *ExchangeResult) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrExchange, r.Error)
}

// ErrorResponse is an OAuth error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
