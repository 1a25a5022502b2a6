// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/carabiner-dev/podauth/internal/testprovider"
	"github.com/carabiner-dev/podauth/pkg/client/authdata"
	"github.com/carabiner-dev/podauth/pkg/client/browser"
	"github.com/carabiner-dev/podauth/pkg/client/browser/browsertest"
	"github.com/carabiner-dev/podauth/pkg/client/config"
	"github.com/carabiner-dev/podauth/pkg/client/exchange"
	"github.com/carabiner-dev/podauth/pkg/client/keys"
)

type flowFixture struct {
	provider *testprovider.Provider
	page     *browsertest.Page
	launcher *browsertest.Launcher
	flow     *Flow
	keys     *keys.KeyMaterial
	now      time.Time
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	prov, err := testprovider.New()
	require.NoError(t, err)
	t.Cleanup(prov.Close)

	km, err := keys.Generate()
	require.NoError(t, err)

	page := browsertest.NewPage(&browsertest.Screen{
		Match:     prov.Server.URL + "/.oidc/auth",
		Selectors: []string{LoginFieldSelector, EmailSelector, PasswordSelector, SubmitSelector},
		OnClick: map[string]browsertest.Target{
			SubmitSelector: browsertest.FromAuthURL(prov.Authorize),
		},
	})
	page.HTTPClient = prov.Server.Client()
	launcher := &browsertest.Launcher{Page: page}

	now := time.Unix(1_700_000_000, 0)
	return &flowFixture{
		provider: prov,
		page:     page,
		launcher: launcher,
		keys:     km,
		now:      now,
		flow: &Flow{
			Config: &config.ProviderConfig{
				Issuer:     prov.Issuer(),
				Port:       44007,
				ClientName: "podauth-test",
				Scopes:     config.DefaultScopes,
				Timeout:    5 * time.Second,
			},
			Launcher:     launcher,
			Headless:     true,
			GenerateKeys: func() (*keys.KeyMaterial, error) { return km, nil },
			Now:          func() time.Time { return now },
		},
	}
}

func TestFlowAuthenticate(t *testing.T) {
	t.Parallel()
	fx := newFlowFixture(t)
	core, logs := observer.New(zap.InfoLevel)
	fx.flow.Logger = zap.New(core)

	res := fx.flow.Authenticate(t.Context(), testCreds)
	require.True(t, res.Success, res.Error)
	require.Empty(t, res.Error)
	require.NoError(t, res.Err)
	require.True(t, fx.launcher.Closed())

	b := res.Bundle
	require.Equal(t, fx.provider.WebID, b.WebID)
	require.NotEmpty(t, b.AuthResponse.ClientID)
	require.True(t, strings.HasPrefix(b.AuthResponse.Token.AccessToken, "at-"))
	require.Equal(t, fx.now.Unix()+3600, *b.AuthResponse.Token.ExpiresAt)
	require.Equal(t, fx.provider.Server.URL+"/.oidc/token", b.AuthResponse.Issuer.TokenEndpoint)
	require.True(t, strings.HasPrefix(b.LogoutURL, fx.provider.Server.URL+"/.oidc/session/end?"))

	km, err := b.KeyMaterial()
	require.NoError(t, err)
	require.Equal(t, fx.keys.PublicJWK, km.PublicJWK)

	require.False(t, authdata.IsExpired(b, time.Time{}, fx.now))
	require.Equal(t, 1, fx.provider.Registrations())
	require.Equal(t, 1, fx.provider.Exchanges())
	require.True(t, fx.page.InterceptionStopped())

	issued := logs.FilterMessage("tokens issued").All()
	require.Len(t, issued, 1)
	fields := issued[0].ContextMap()
	require.Equal(t, "DPoP", fields["token_type"])
	require.Equal(t, fx.now.Add(time.Hour), fields["expiry"])
}

func TestFlowDerivedMetadata(t *testing.T) {
	t.Parallel()
	fx := newFlowFixture(t)
	fx.provider.NoDiscovery = true

	res := fx.flow.Authenticate(t.Context(), testCreds)
	require.True(t, res.Success, res.Error)
	require.Equal(t, fx.provider.Server.URL+"/.oidc/jwks", res.Bundle.AuthResponse.Issuer.JWKSURI)
}

func TestFlowRegistrationFailure(t *testing.T) {
	t.Parallel()
	fx := newFlowFixture(t)
	fx.provider.FailRegistration = true

	res := fx.flow.Authenticate(t.Context(), testCreds)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)
	require.Nil(t, res.Bundle)
	require.ErrorIs(t, res.Err, exchange.ErrRegistration)
	require.Contains(t, res.Error, "registration disabled")

	require.Equal(t, 0, fx.provider.Exchanges())
	for _, f := range fx.page.Fetches() {
		require.NotContains(t, f.URL, "/.oidc/token")
	}
	require.True(t, fx.launcher.Closed())

	// The failed registration drops the cached metadata
	fx.flow.Authenticate(t.Context(), testCreds)
	discoveries := 0
	for _, f := range fx.page.Fetches() {
		if strings.HasSuffix(f.URL, authdata.WellKnownPath) {
			discoveries++
		}
	}
	require.Equal(t, 2, discoveries)
}

func TestFlowExchangeFailure(t *testing.T) {
	t.Parallel()
	fx := newFlowFixture(t)
	fx.provider.FailToken = true

	res := fx.flow.Authenticate(t.Context(), testCreds)
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, exchange.ErrExchange)
	require.Contains(t, res.Error, "invalid_grant")
	require.True(t, fx.launcher.Closed())
}

func TestFlowRecoversPanics(t *testing.T) {
	t.Parallel()
	fx := newFlowFixture(t)
	fx.page.FetchFunc = func(context.Context, browser.FetchRequest) (*browser.FetchResponse, error) {
		panic("browser crashed")
	}

	res := fx.flow.Authenticate(t.Context(), testCreds)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "browser crashed")
	require.True(t, fx.launcher.Closed())
}

func TestFlowLaunchFailure(t *testing.T) {
	t.Parallel()
	f := &Flow{
		Config:   config.Defaults(),
		Launcher: &browsertest.Launcher{Err: errors.New("chrome not found")},
	}
	res := f.Authenticate(t.Context(), testCreds)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "chrome not found")
}

func TestFlowRequiresInputs(t *testing.T) {
	t.Parallel()
	res := (&Flow{}).Authenticate(t.Context(), testCreds)
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, config.ErrConfig)

	res = (&Flow{Config: config.Defaults(), Launcher: &browsertest.Launcher{}}).Authenticate(t.Context(), nil)
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, config.ErrConfig)
}
