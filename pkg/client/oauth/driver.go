// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carabiner-dev/podauth/pkg/client/browser"
	"github.com/carabiner-dev/podauth/pkg/client/config"
)

// Selectors for the Community Solid Server account pages.
const (
	LoginFieldSelector = `input[type="email"], input[type="text"]`
	EmailSelector      = `input[type="email"], input[name="email"], #email`
	PasswordSelector   = `input[type="password"]`
	SubmitSelector     = `button[type="submit"]`

	// ConsentMarker identifies the consent page by its URL path.
	ConsentMarker     = "consent"
	ConsentCandidates = `button, input[type="submit"]`
)

// SecurityKeySelectors are tried in order after consent.
var SecurityKeySelectors = []string{
	`input[name="securityKey"]`,
	`input[name="security-key"]`,
	`input[name="otp"]`,
	`input[autocomplete="one-time-code"]`,
}

var consentLabels = []string{"yes", "allow", "authorize", "consent"}

const (
	pollInterval       = 500 * time.Millisecond
	navigationPoll     = 100 * time.Millisecond
	settleDelay        = 500 * time.Millisecond
	securityKeyTimeout = 2 * time.Second
	submitTimeout      = 5 * time.Second
)

// ErrInteractive classifies failures of the scripted login.
var ErrInteractive = errors.New("interactive login failed")

// StepError reports the driver step that failed.
type StepError struct {
	Step   string
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Reason)
}

func (e *StepError) Is(target error) bool { return target == ErrInteractive }

func (e *StepError) Unwrap() error { return e.Err }

// Driver walks the provider login, consent and second factor pages.
type Driver struct {
	Page    browser.Page
	Timeout time.Duration

	// InteractionDelay pauses between steps so a headed run can be followed.
	InteractionDelay time.Duration

	Logger *zap.Logger
}

// Run drives the browser from the authorization URL to the captured
// callback and returns the authorization code.
func (d *Driver) Run(ctx context.Context, a *Attempt, authURL string, creds *config.TestCredentials) (string, error) {
	log := d.logger().With(zap.String("attempt", a.ID))

	if err := d.bounded(ctx, func(ctx context.Context) error {
		return d.Page.InterceptRequests(ctx, a.Interceptor.Handle)
	}); err != nil {
		return "", &StepError{Step: "intercept", Reason: "enabling request interception", Err: err}
	}
	defer func() {
		a.Interceptor.Deactivate()
		if err := d.bounded(context.WithoutCancel(ctx), d.Page.StopIntercepting); err != nil {
			log.Debug("disabling request interception", zap.Error(err))
		}
	}()

	// 1. Authorization page
	log.Info("opening authorization page")
	if err := d.bounded(ctx, func(ctx context.Context) error { return d.Page.Navigate(ctx, authURL) }); err != nil {
		return "", &StepError{Step: "navigate", Reason: "loading authorization page", Err: err}
	}

	// 2. Login form
	if err := d.Page.WaitForSelector(ctx, LoginFieldSelector, d.timeout()); err != nil {
		return "", &StepError{Step: "login", Reason: "login form not found", Err: err}
	}
	if err := d.sleep(ctx, settleDelay); err != nil {
		return "", &StepError{Step: "login", Reason: "waiting for login form", Err: err}
	}

	// 3. Credentials
	log.Info("submitting login form")
	if err := d.bounded(ctx, func(ctx context.Context) error {
		return d.Page.Type(ctx, EmailSelector, creds.Email)
	}); err != nil {
		return "", &StepError{Step: "login", Reason: "typing email", Err: err}
	}
	if err := d.bounded(ctx, func(ctx context.Context) error {
		return d.Page.Type(ctx, PasswordSelector, creds.Password)
	}); err != nil {
		return "", &StepError{Step: "login", Reason: "typing password", Err: err}
	}
	d.pause(ctx)
	if err := d.Page.WaitForSelector(ctx, SubmitSelector, submitTimeout); err != nil {
		return "", &StepError{Step: "login", Reason: "submit button not found", Err: err}
	}
	if err := d.bounded(ctx, func(ctx context.Context) error {
		return d.Page.Click(ctx, SubmitSelector)
	}); err != nil {
		return "", &StepError{Step: "login", Reason: "clicking submit button", Err: err}
	}

	// 4. Post login navigation
	if err := d.waitForNavigation(ctx, a.Interceptor); err != nil {
		log.Warn("no navigation after login", zap.Error(err))
	}
	d.pause(ctx)

	// 5. Consent
	if !captured(a.Interceptor) {
		if err := d.consent(ctx, log, a.Interceptor); err != nil {
			return "", err
		}
	}

	// 6. Security key, best effort
	if !captured(a.Interceptor) {
		d.securityKey(ctx, log, creds.SecurityKey)
	}

	// 7. Wait for the intercepted callback
	log.Info("waiting for authorization callback")
	res, err := d.waitForCallback(ctx, a.Interceptor)
	if err != nil {
		return "", &StepError{Step: "callback", Reason: "Timeout waiting for OAuth callback", Err: err}
	}

	// 8. Validate
	if res.Error != "" {
		return "", &StepError{Step: "callback", Reason: fmt.Sprintf("provider returned %s: %s", res.Error, res.ErrorDescription)}
	}
	if res.Code == "" {
		return "", &StepError{Step: "callback", Reason: "empty authorization code"}
	}
	if res.State != a.State {
		return "", &StepError{Step: "callback", Reason: "state mismatch: potential CSRF attack"}
	}

	log.Info("authorization code captured")
	return res.Code, nil
}

func (d *Driver) consent(ctx context.Context, log *zap.Logger, ci *CallbackInterceptor) error {
	var current string
	if err := d.bounded(ctx, func(ctx context.Context) (err error) {
		current, err = d.Page.URL(ctx)
		return err
	}); err != nil {
		return &StepError{Step: "consent", Reason: "reading page location", Err: err}
	}
	if u, err := url.Parse(current); err != nil || !strings.Contains(u.Path, ConsentMarker) {
		return nil
	}

	log.Info("granting consent")
	var elements []browser.Element
	if err := d.bounded(ctx, func(ctx context.Context) (err error) {
		elements, err = d.Page.Elements(ctx, ConsentCandidates)
		return err
	}); err != nil {
		return &StepError{Step: "consent", Reason: "listing consent buttons", Err: err}
	}

	err := d.bounded(ctx, func(ctx context.Context) error {
		if i := consentButton(elements); i >= 0 {
			return d.Page.ClickElement(ctx, ConsentCandidates, i)
		}
		log.Debug("no labeled consent button, using the submit button")
		return d.Page.Click(ctx, SubmitSelector)
	})
	if err != nil {
		return &StepError{Step: "consent", Reason: "consent button not found", Err: err}
	}

	if err := d.waitForNavigation(ctx, ci); err != nil {
		log.Warn("no navigation after consent, continuing", zap.Error(err))
	}
	d.pause(ctx)
	return nil
}

// consentButton returns the index of the first element labeled as an
// approval, or -1.
func consentButton(elements []browser.Element) int {
	for i, el := range elements {
		for _, label := range []string{el.Text, el.Value} {
			if slices.Contains(consentLabels, strings.ToLower(strings.TrimSpace(label))) {
				return i
			}
		}
	}
	return -1
}

// securityKey fills the first security key field found. The result of the
// submission is not checked.
func (d *Driver) securityKey(ctx context.Context, log *zap.Logger, key string) {
	for _, sel := range SecurityKeySelectors {
		if err := d.Page.WaitForSelector(ctx, sel, securityKeyTimeout); err != nil {
			continue
		}
		log.Info("entering security key")
		if err := d.bounded(ctx, func(ctx context.Context) error {
			return d.Page.Type(ctx, sel, key)
		}); err != nil {
			log.Warn("typing security key", zap.Error(err))
			return
		}
		d.pause(ctx)
		if err := d.bounded(ctx, func(ctx context.Context) error {
			return d.Page.Click(ctx, SubmitSelector)
		}); err != nil {
			log.Warn("submitting security key", zap.Error(err))
		}
		return
	}
}

func (d *Driver) waitForCallback(ctx context.Context, ci *CallbackInterceptor) (CallbackResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if res, ok := ci.Result(); ok {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return CallbackResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForNavigation waits for the page to leave the current document. A
// click that lands on the intercepted redirect never changes the location,
// so the wait ends as soon as the callback is captured.
func (d *Driver) waitForNavigation(ctx context.Context, ci *CallbackInterceptor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Page.WaitForNavigation(ctx, d.timeout()) }()

	ticker := time.NewTicker(navigationPoll)
	defer ticker.Stop()

	for {
		if captured(ci) {
			return nil
		}
		select {
		case err := <-done:
			return err
		case <-ticker.C:
		}
	}
}

func captured(ci *CallbackInterceptor) bool {
	_, ok := ci.Result()
	return ok
}

// bounded runs fn with the step timeout applied.
func (d *Driver) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()
	return fn(ctx)
}

func (d *Driver) pause(ctx context.Context) {
	if d.InteractionDelay > 0 {
		d.sleep(ctx, d.InteractionDelay) //nolint:errcheck
	}
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Driver) timeout() time.Duration {
	if d.Timeout <= 0 {
		return config.DefaultTimeout
	}
	return d.Timeout
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
