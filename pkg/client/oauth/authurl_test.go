// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAuthorizationURL(t *testing.T) {
	t.Parallel()
	a := NewAttempt("id", "C1", "http://localhost:44007/")

	raw := BuildAuthorizationURL("https://idp.example/.oidc/auth", []string{"openid", "webid", "offline_access"}, a)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "idp.example", u.Host)
	require.Equal(t, "/.oidc/auth", u.Path)

	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "C1", q.Get("client_id"))
	require.Equal(t, "http://localhost:44007/", q.Get("redirect_uri"))
	require.Equal(t, "openid webid offline_access", q.Get("scope"))
	require.Equal(t, a.State, q.Get("state"))
	require.Equal(t, a.PKCE.Challenge, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.False(t, q.Has("code_verifier"))
}
