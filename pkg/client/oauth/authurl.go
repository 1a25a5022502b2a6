// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"golang.org/x/oauth2"
)

// BuildAuthorizationURL returns the authorization endpoint URL for the
// attempt. prompt=consent forces the consent screen even when the provider
// has a session.
func BuildAuthorizationURL(authEndpoint string, scopes []string, a *Attempt) string {
	oauth2Config := &oauth2.Config{
		ClientID: a.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL: authEndpoint,
		},
		RedirectURL: a.RedirectURI,
		Scopes:      scopes,
	}

	return oauth2Config.AuthCodeURL(
		a.State,
		oauth2.SetAuthURLParam("code_challenge", a.PKCE.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", a.PKCE.Method),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}
