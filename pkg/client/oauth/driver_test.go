// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carabiner-dev/podauth/pkg/client/browser"
	"github.com/carabiner-dev/podauth/pkg/client/browser/browsertest"
	"github.com/carabiner-dev/podauth/pkg/client/config"
)

const (
	authEndpoint = "https://idp.example/.oidc/auth"
	consentPage  = "https://idp.example/.account/oidc/consent/"
)

var testCreds = &config.TestCredentials{
	Email:       "alice@example.org",
	Password:    "hunter2",
	SecurityKey: "424242",
	WebID:       "https://pod.example/alice/profile/card#me",
	PodURL:      "https://pod.example/alice/",
	Issuer:      "https://idp.example/",
}

func loginScreen(next browsertest.Target) *browsertest.Screen {
	return &browsertest.Screen{
		Match:     authEndpoint,
		Selectors: []string{LoginFieldSelector, EmailSelector, PasswordSelector, SubmitSelector},
		OnClick:   map[string]browsertest.Target{SubmitSelector: next},
	}
}

func consentScreen(elements []browser.Element, onClick map[string]browsertest.Target) *browsertest.Screen {
	return &browsertest.Screen{
		Match:     consentPage,
		Selectors: []string{SubmitSelector},
		Elements:  map[string][]browser.Element{ConsentCandidates: elements},
		OnClick:   onClick,
	}
}

func runDriver(t *testing.T, page browser.Page, timeout time.Duration) (*Attempt, string, error) {
	t.Helper()
	a := NewAttempt("test", "C1", redirect)
	d := &Driver{Page: page, Timeout: timeout}
	code, err := d.Run(t.Context(), a, BuildAuthorizationURL(authEndpoint, []string{"openid"}, a), testCreds)
	return a, code, err
}

func TestDriverConsentFlow(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage(
		loginScreen(browsertest.To(consentPage)),
		consentScreen(
			[]browser.Element{{Text: "Cancel"}, {Text: " Authorize "}},
			map[string]browsertest.Target{ConsentCandidates + "[1]": browsertest.RedirectWithCode("XYZ")},
		),
	)

	a, code, err := runDriver(t, page, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "XYZ", code)

	require.Equal(t, testCreds.Email, page.Typed(EmailSelector))
	require.Equal(t, testCreds.Password, page.Typed(PasswordSelector))
	require.Equal(t, []string{SubmitSelector, ConsentCandidates + "[1]"}, page.Clicks())

	// The callback never reached the network
	aborted := page.Aborted()
	require.Len(t, aborted, 1)
	require.True(t, strings.HasPrefix(aborted[0], redirect))

	require.False(t, a.Interceptor.Active())
	require.True(t, page.InterceptionStopped())
}

func TestDriverConsentFallsBackToSubmit(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage(
		loginScreen(browsertest.To(consentPage)),
		consentScreen(
			[]browser.Element{{Text: "Remember this client"}},
			map[string]browsertest.Target{SubmitSelector: browsertest.RedirectWithCode("XYZ")},
		),
	)

	_, code, err := runDriver(t, page, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "XYZ", code)
	require.Equal(t, []string{SubmitSelector, SubmitSelector}, page.Clicks())
}

func TestDriverConsentByValue(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage(
		loginScreen(browsertest.To(consentPage)),
		consentScreen(
			[]browser.Element{{Value: "ALLOW", Type: "submit"}},
			map[string]browsertest.Target{ConsentCandidates + "[0]": browsertest.RedirectWithCode("V")},
		),
	)

	_, code, err := runDriver(t, page, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "V", code)
}

func TestDriverSecurityKey(t *testing.T) {
	t.Parallel()
	const twoFactor = "https://idp.example/.account/2fa/"
	keyField := SecurityKeySelectors[2]
	page := browsertest.NewPage(
		loginScreen(browsertest.To(consentPage)),
		consentScreen(
			[]browser.Element{{Text: "Yes"}},
			map[string]browsertest.Target{ConsentCandidates + "[0]": browsertest.To(twoFactor)},
		),
		&browsertest.Screen{
			Match:     twoFactor,
			Selectors: []string{keyField, SubmitSelector},
			OnClick:   map[string]browsertest.Target{SubmitSelector: browsertest.RedirectWithCode("2FA")},
		},
	)

	_, code, err := runDriver(t, page, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "2FA", code)
	require.Equal(t, testCreds.SecurityKey, page.Typed(keyField))
}

func TestDriverWithoutConsentPage(t *testing.T) {
	t.Parallel()
	page := browsertest.NewPage(loginScreen(browsertest.RedirectWithCode("DIRECT")))

	_, code, err := runDriver(t, page, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "DIRECT", code)
	require.Equal(t, []string{SubmitSelector}, page.Clicks())
}

func TestDriverFailures(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name   string
		page   *browsertest.Page
		step   string
		reason string
	}{
		{
			name:   "no-login-form",
			page:   browsertest.NewPage(&browsertest.Screen{Match: authEndpoint}),
			step:   "login",
			reason: "login form not found",
		},
		{
			name: "no-submit",
			page: browsertest.NewPage(&browsertest.Screen{
				Match:     authEndpoint,
				Selectors: []string{LoginFieldSelector, EmailSelector, PasswordSelector},
			}),
			step:   "login",
			reason: "submit button not found",
		},
		{
			name:   "callback-timeout",
			page:   browsertest.NewPage(loginScreen(browsertest.To("https://idp.example/stuck"))),
			step:   "callback",
			reason: "Timeout waiting for OAuth callback",
		},
		{
			name:   "provider-error",
			page:   browsertest.NewPage(loginScreen(browsertest.RedirectWithError("access_denied", "user said no"))),
			step:   "callback",
			reason: "provider returned access_denied: user said no",
		},
		{
			name:   "empty-code",
			page:   browsertest.NewPage(loginScreen(browsertest.RedirectWithCode(""))),
			step:   "callback",
			reason: "empty authorization code",
		},
		{
			name:   "state-mismatch",
			page:   browsertest.NewPage(loginScreen(browsertest.To(redirect + "?code=X&state=forged"))),
			step:   "callback",
			reason: "state mismatch",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, code, err := runDriver(t, tc.page, time.Second)
			require.Empty(t, code)
			require.ErrorIs(t, err, ErrInteractive)

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			require.Equal(t, tc.step, stepErr.Step)
			require.Contains(t, stepErr.Reason, tc.reason)

			require.False(t, a.Interceptor.Active())
			require.True(t, tc.page.InterceptionStopped())
		})
	}
}

// hangingPage blocks the listed operations until their context is done, the
// way chromedp waits forever for a node that never appears.
type hangingPage struct {
	*browsertest.Page
	typing     string
	clicking   string
	clickingOn string
	navigation bool
}

func (p *hangingPage) Type(ctx context.Context, selector, text string) error {
	if selector == p.typing {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.Page.Type(ctx, selector, text)
}

func (p *hangingPage) Click(ctx context.Context, selector string) error {
	current, _ := p.Page.URL(ctx)
	if selector == p.clicking && strings.HasPrefix(current, p.clickingOn) {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.Page.Click(ctx, selector)
}

func (p *hangingPage) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	if !p.navigation {
		return p.Page.WaitForNavigation(ctx, timeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestDriverStepsHonorTimeout(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name   string
		page   *hangingPage
		step   string
		reason string
	}{
		{
			name:   "email-field-never-matches",
			page:   &hangingPage{Page: browsertest.NewPage(loginScreen(browsertest.RedirectWithCode("X"))), typing: EmailSelector},
			step:   "login",
			reason: "typing email",
		},
		{
			name:   "submit-click-hangs",
			page:   &hangingPage{Page: browsertest.NewPage(loginScreen(browsertest.RedirectWithCode("X"))), clicking: SubmitSelector},
			step:   "login",
			reason: "clicking submit button",
		},
		{
			name: "consent-fallback-click-hangs",
			page: &hangingPage{
				Page: browsertest.NewPage(
					loginScreen(browsertest.To(consentPage)),
					&browsertest.Screen{Match: consentPage},
				),
				clicking:   SubmitSelector,
				clickingOn: consentPage,
			},
			step:   "consent",
			reason: "consent button not found",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
			defer cancel()

			a := NewAttempt("test", "C1", redirect)
			d := &Driver{Page: tc.page, Timeout: 500 * time.Millisecond}
			start := time.Now()
			code, err := d.Run(ctx, a, BuildAuthorizationURL(authEndpoint, []string{"openid"}, a), testCreds)
			require.Less(t, time.Since(start), 3*time.Second)
			require.Empty(t, code)
			require.ErrorIs(t, err, ErrInteractive)

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			require.Equal(t, tc.step, stepErr.Step)
			require.Equal(t, tc.reason, stepErr.Reason)
			require.True(t, tc.page.InterceptionStopped())
		})
	}
}

func TestDriverStopsWaitingOnceCallbackCaptured(t *testing.T) {
	t.Parallel()
	// The aborted redirect leaves the location unchanged, so a navigation
	// wait would only end at the step timeout.
	page := &hangingPage{
		Page:       browsertest.NewPage(loginScreen(browsertest.RedirectWithCode("FAST"))),
		navigation: true,
	}

	start := time.Now()
	_, code, err := runDriver(t, page, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, "FAST", code)
	require.Less(t, time.Since(start), 3*time.Second)
	require.Equal(t, []string{SubmitSelector}, page.Clicks())
}
