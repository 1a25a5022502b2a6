// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package authdata

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carabiner-dev/podauth/pkg/client/exchange"
	"github.com/carabiner-dev/podauth/pkg/client/keys"
)

func TestBuildCredentialJSON(t *testing.T) {
	t.Parallel()
	captured := time.Unix(1_700_000_000, 400_000_000)
	md := DeriveMetadata("https://issuer.example")

	cred, err := BuildCredentialJSON(&exchange.TokenSet{
		AccessToken: "A",
		IDToken:     "I",
		TokenType:   "DPoP",
		ExpiresIn:   3600,
	}, "C1", md, captured)
	require.NoError(t, err)

	require.Equal(t, "C1", cred.ClientID)
	require.Same(t, md, cred.Issuer)
	require.Nil(t, cred.ClientSecret)
	require.Nil(t, cred.Nonce)
	require.Equal(t, "A", cred.Token.AccessToken)
	require.NotNil(t, cred.Token.ExpiresAt)
	require.Equal(t, int64(1_700_003_600), *cred.Token.ExpiresAt)
	require.Equal(t, int64(3600), *cred.Token.ExpiresIn)
	require.Equal(t, "I", *cred.Token.IDToken)
	require.Nil(t, cred.Token.RefreshToken)
	require.Nil(t, cred.Token.Scope)

	_, err = BuildCredentialJSON(&exchange.TokenSet{}, "C1", md, captured)
	require.Error(t, err)
	_, err = BuildCredentialJSON(&exchange.TokenSet{AccessToken: "A"}, "C1", nil, captured)
	require.Error(t, err)
}

func TestBuildCompleteAuthDataShape(t *testing.T) {
	t.Parallel()
	km, err := keys.Generate()
	require.NoError(t, err)

	cred, err := BuildCredentialJSON(&exchange.TokenSet{AccessToken: "A", ExpiresIn: 3600}, "C1",
		DeriveMetadata("https://issuer.example"), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	b, err := BuildCompleteAuthData("W", "https://issuer.example/.oidc/session/end", km, cred)
	require.NoError(t, err)

	data, err := b.Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.ElementsMatch(t, []string{"web_id", "logout_url", "rsa_info", "auth_response"}, keysOf(raw))
	require.Equal(t, "W", raw["web_id"])

	ar, ok := raw["auth_response"].(map[string]any)
	require.True(t, ok)
	require.ElementsMatch(t, []string{"issuer", "client_id", "client_secret", "token", "nonce"}, keysOf(ar))
	require.Nil(t, ar["client_secret"])
	require.Nil(t, ar["nonce"])

	tok, ok := ar["token"].(map[string]any)
	require.True(t, ok)
	require.ElementsMatch(t, []string{
		"expires_at", "access_token", "expires_in", "id_token", "refresh_token", "scope", "token_type",
	}, keysOf(tok))
	require.Equal(t, "A", tok["access_token"])
	require.InDelta(t, 1_700_003_600, tok["expires_at"], 0)

	issuer, ok := ar["issuer"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "https://issuer.example/.oidc/token", issuer["token_endpoint"])

	// rsa_info is a JSON string carrying the PEM pair under "rsa"
	rsaInfo, ok := raw["rsa_info"].(string)
	require.True(t, ok)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(rsaInfo), &info))
	pair, ok := info["rsa"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, km.KeyPair.PublicKey, pair["publicKey"])
	require.Equal(t, km.KeyPair.PrivateKey, pair["privateKey"])

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, b, parsed)

	got, err := parsed.KeyMaterial()
	require.NoError(t, err)
	require.Equal(t, km.PublicJWK, got.PublicJWK)
}

func TestParseRejectsIncomplete(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{"web_id":"W"}`))
	require.Error(t, err)
	_, err = Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestLogoutURL(t *testing.T) {
	t.Parallel()
	md := DeriveMetadata("https://issuer.example/")

	u, err := url.Parse(LogoutURL(md, "id.tok.en", "http://localhost:44007/"))
	require.NoError(t, err)
	require.Equal(t, "/.oidc/session/end", u.Path)
	require.Equal(t, "id.tok.en", u.Query().Get("id_token_hint"))
	require.Equal(t, "http://localhost:44007/", u.Query().Get("post_logout_redirect_uri"))

	require.Empty(t, LogoutURL(&IssuerMetadata{}, "x", "y"))
	require.Empty(t, LogoutURL(nil, "x", "y"))
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
