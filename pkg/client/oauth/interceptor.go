// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"net/url"
	"strings"
	"sync"

	"github.com/carabiner-dev/podauth/pkg/client/browser"
)

// CallbackResult holds what the provider sent to the redirect URI
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackInterceptor catches the browser request to the local redirect
// URI. Nothing listens on that port: the request is aborted after its
// query is captured.
type CallbackInterceptor struct {
	redirectURI string

	mu       sync.Mutex
	active   bool
	captured bool
	result   CallbackResult
}

// NewCallbackInterceptor returns an active interceptor for redirectURI.
func NewCallbackInterceptor(redirectURI string) *CallbackInterceptor {
	return &CallbackInterceptor{
		redirectURI: redirectURI,
		active:      true,
	}
}

// Handle is a browser.RequestHandler. Requests to the redirect URI are
// aborted while the interceptor is active, the first one carrying a code or
// an error is captured. Everything else continues.
func (ci *CallbackInterceptor) Handle(rawURL string) browser.Decision {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	if !ci.active || !strings.HasPrefix(rawURL, ci.redirectURI) {
		return browser.Continue
	}

	if ci.captured {
		return browser.Abort
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return browser.Abort
	}
	q := u.Query()
	if !q.Has("code") && !q.Has("error") {
		// favicon and friends
		return browser.Abort
	}

	ci.result = CallbackResult{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	ci.captured = true
	return browser.Abort
}

// Deactivate stops the interceptor. Later requests pass through and the
// captured result no longer changes.
func (ci *CallbackInterceptor) Deactivate() {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.active = false
}

// Active reports whether the interceptor still handles callbacks.
func (ci *CallbackInterceptor) Active() bool {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.active
}

// Result returns the captured callback, ok is false until one arrived.
func (ci *CallbackInterceptor) Result() (CallbackResult, bool) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.result, ci.captured
}

// Attempt is the state of one authentication attempt shared by the flow,
// the driver and the interceptor.
type Attempt struct {
	ID          string
	ClientID    string
	RedirectURI string
	State       string
	PKCE        *PKCEChallenge
	Interceptor *CallbackInterceptor
}

// NewAttempt starts an attempt with fresh PKCE and state values.
func NewAttempt(id, clientID, redirectURI string) *Attempt {
	return &Attempt{
		ID:          id,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		State:       generateState(),
		PKCE:        GeneratePKCEChallenge(),
		Interceptor: NewCallbackInterceptor(redirectURI),
	}
}

// generateState generates a random state parameter for CSRF protection
func generateState() string {
	return randomString(32)
}
