// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package authdata assembles the complete auth data bundle a client loads
// to resume an authenticated Solid session, and decides when it is stale.
package authdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/carabiner-dev/podauth/pkg/client/exchange"
	"github.com/carabiner-dev/podauth/pkg/client/keys"
)

// Bundle is the persisted auth data. Field names are consumed by
// downstream clients and must not change.
type Bundle struct {
	WebID        string          `json:"web_id"`
	LogoutURL    string          `json:"logout_url"`
	RSAInfo      string          `json:"rsa_info"`
	AuthResponse *CredentialJSON `json:"auth_response"`
}

// CredentialJSON is the auth_response member of a bundle.
type CredentialJSON struct {
	Issuer       *IssuerMetadata `json:"issuer"`
	ClientID     string          `json:"client_id"`
	ClientSecret *string         `json:"client_secret"`
	Token        Token           `json:"token"`
	Nonce        *string         `json:"nonce"`

	// Response is only found in bundles written by older tools.
	Response *LegacyResponse `json:"response,omitempty"`
}

// Token is the token set with its computed absolute expiry.
type Token struct {
	ExpiresAt    *int64  `json:"expires_at"`
	AccessToken  string  `json:"access_token"`
	ExpiresIn    *int64  `json:"expires_in"`
	IDToken      *string `json:"id_token"`
	RefreshToken *string `json:"refresh_token"`
	Scope        *string `json:"scope"`
	TokenType    string  `json:"token_type"`
}

// LegacyResponse carries the expiry members older bundles stored outside
// of the token object.
type LegacyResponse struct {
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	ExpiresIn *int64 `json:"expires_in,omitempty"`
}

// BuildCredentialJSON computes the absolute expiry of the tokens from the
// capture time and wraps them with the client and issuer data.
func BuildCredentialJSON(tokens *exchange.TokenSet, clientID string, issuer *IssuerMetadata, capturedAt time.Time) (*CredentialJSON, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, errors.New("token set has no access token")
	}
	if issuer == nil {
		return nil, errors.New("issuer metadata is required")
	}

	tok := Token{
		AccessToken:  tokens.AccessToken,
		IDToken:      optional(tokens.IDToken),
		RefreshToken: optional(tokens.RefreshToken),
		Scope:        optional(tokens.Scope),
		TokenType:    tokens.TokenType,
	}
	if tokens.ExpiresIn > 0 {
		expiresIn := tokens.ExpiresIn
		expiresAt := capturedAt.Unix() + expiresIn
		tok.ExpiresIn = &expiresIn
		tok.ExpiresAt = &expiresAt
	}

	return &CredentialJSON{
		Issuer:   issuer,
		ClientID: clientID,
		Token:    tok,
	}, nil
}

// BuildCompleteAuthData assembles the bundle. The key material is embedded
// as its JSON text form.
func BuildCompleteAuthData(webID, logoutURL string, km *keys.KeyMaterial, cred *CredentialJSON) (*Bundle, error) {
	if km == nil {
		return nil, errors.New("key material is required")
	}
	if cred == nil {
		return nil, errors.New("credential data is required")
	}

	rsaInfo, err := km.Marshal()
	if err != nil {
		return nil, err
	}

	return &Bundle{
		WebID:        webID,
		LogoutURL:    logoutURL,
		RSAInfo:      rsaInfo,
		AuthResponse: cred,
	}, nil
}

// LogoutURL builds the RP-initiated logout URL for a session.
func LogoutURL(issuer *IssuerMetadata, idToken, postLogoutRedirect string) string {
	if issuer == nil || issuer.EndSessionEndpoint == "" {
		return ""
	}
	u, err := url.Parse(issuer.EndSessionEndpoint)
	if err != nil {
		return issuer.EndSessionEndpoint
	}
	q := u.Query()
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Parse decodes a bundle from its JSON form.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing auth data: %w", err)
	}
	if b.AuthResponse == nil {
		return nil, errors.New("auth data has no auth_response")
	}
	return &b, nil
}

// Marshal encodes the bundle as indented JSON.
func (b *Bundle) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling auth data: %w", err)
	}
	return data, nil
}

// KeyMaterial decodes the embedded keypair.
func (b *Bundle) KeyMaterial() (*keys.KeyMaterial, error) {
	return keys.ParseKeyMaterial(b.RSAInfo)
}

// IDToken returns the id token or an empty string.
func (b *Bundle) IDToken() string {
	if b.AuthResponse == nil || b.AuthResponse.Token.IDToken == nil {
		return ""
	}
	return *b.AuthResponse.Token.IDToken
}

// AccessToken returns the access token or an empty string.
func (b *Bundle) AccessToken() string {
	if b.AuthResponse == nil {
		return ""
	}
	return b.AuthResponse.Token.AccessToken
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
