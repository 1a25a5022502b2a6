// SPDX-FileCopyrightText: Copyright 2025 Carabiner Systems, Inc

package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carabiner-dev/podauth/pkg/client/authdata"
	"github.com/carabiner-dev/podauth/pkg/client/browser"
	"github.com/carabiner-dev/podauth/pkg/client/config"
	"github.com/carabiner-dev/podauth/pkg/client/exchange"
	"github.com/carabiner-dev/podauth/pkg/client/keys"
)

// metadataTTL is how long discovered issuer metadata is reused.
const metadataTTL = 15 * time.Minute

// Flow runs complete authentication attempts against one provider.
type Flow struct {
	Config   *config.ProviderConfig
	Launcher browser.Launcher

	Headless         bool
	InteractionDelay time.Duration

	// Metadata resolves issuer metadata, a resolver is created on first use
	// when nil.
	Metadata *authdata.MetadataResolver

	// GenerateKeys and Now are replaceable for tests.
	GenerateKeys func() (*keys.KeyMaterial, error)
	Now          func() time.Time

	Logger *zap.Logger
}

// Result is the outcome of an authentication attempt
type Result struct {
	Success bool
	Bundle  *authdata.Bundle
	Error   string

	// Err keeps the failure for errors.Is checks.
	Err error
}

func failure(err error) *Result {
	return &Result{Error: err.Error(), Err: err}
}

// Authenticate registers a client, logs in with creds in a fresh browser,
// exchanges the code and assembles the auth data bundle. It never panics and
// always closes the browser.
func (f *Flow) Authenticate(ctx context.Context, creds *config.TestCredentials) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(fmt.Errorf("unexpected failure during authentication: %v", r))
		}
	}()

	if f.Config == nil || f.Launcher == nil {
		return failure(fmt.Errorf("%w: flow needs a provider config and a browser launcher", config.ErrConfig))
	}
	if creds == nil {
		return failure(fmt.Errorf("%w: no test credentials", config.ErrConfig))
	}

	page, closeBrowser, err := f.Launcher.Launch(ctx, browser.LaunchOptions{Headless: f.Headless})
	if err != nil {
		return failure(fmt.Errorf("launching browser: %w", err))
	}
	defer closeBrowser()

	bundle, err := f.run(ctx, page, creds)
	if err != nil {
		return failure(err)
	}
	return &Result{Success: true, Bundle: bundle}
}

func (f *Flow) run(ctx context.Context, page browser.Page, creds *config.TestCredentials) (*authdata.Bundle, error) {
	attemptID := uuid.NewString()
	log := f.logger().With(zap.String("attempt", attemptID))
	issuer := f.Config.IssuerURL()
	redirectURI := f.Config.RedirectURI()

	// In-page requests need the issuer origin
	navCtx, cancel := context.WithTimeout(ctx, f.timeout())
	err := page.Navigate(navCtx, issuer)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("opening issuer %s: %w", issuer, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, f.timeout())
	metadata := f.metadata().Resolve(stepCtx, page, issuer)
	cancel()

	client := exchange.NewClient(page)
	stepCtx, cancel = context.WithTimeout(ctx, f.timeout())
	clientID, err := client.Register(stepCtx, metadata.RegistrationEndpoint,
		exchange.NewRegistrationRequest(f.Config.ClientName, redirectURI, f.Config.ScopeString()))
	cancel()
	if err != nil {
		// The cached endpoints may be stale, discover again next time
		f.metadata().Forget(issuer)
		return nil, err
	}
	log.Info("registered client", zap.String("client_id", clientID))

	attempt := NewAttempt(attemptID, clientID, redirectURI)
	authURL := BuildAuthorizationURL(metadata.AuthorizationEndpoint, f.Config.Scopes, attempt)

	driver := &Driver{
		Page:             page,
		Timeout:          f.timeout(),
		InteractionDelay: f.InteractionDelay,
		Logger:           log,
	}
	code, err := driver.Run(ctx, attempt, authURL, creds)
	if err != nil {
		return nil, err
	}

	stepCtx, cancel = context.WithTimeout(ctx, f.timeout())
	ex := client.ExchangeCode(stepCtx, &exchange.CodeExchangeRequest{
		TokenEndpoint: metadata.TokenEndpoint,
		Code:          code,
		ClientID:      clientID,
		CodeVerifier:  attempt.PKCE.Verifier,
		RedirectURI:   redirectURI,
	})
	cancel()
	if !ex.Success {
		return nil, ex.Err()
	}
	capturedAt := f.now()
	tok := ex.Tokens.OAuth2Token(capturedAt)
	log.Info("tokens issued", zap.String("token_type", tok.Type()), zap.Time("expiry", tok.Expiry))

	km, err := f.generateKeys()
	if err != nil {
		return nil, fmt.Errorf("generating session keys: %w", err)
	}

	webID, ok := ExtractSubject(ex.Tokens.IDToken)
	switch {
	case !ok:
		log.Warn("could not read WebID from id token, using the configured one")
		webID = creds.WebID
	case creds.WebID != "" && webID != creds.WebID:
		log.Warn("id token WebID differs from the configured one",
			zap.String("token", webID), zap.String("configured", creds.WebID))
	}

	cred, err := authdata.BuildCredentialJSON(ex.Tokens, clientID, metadata, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("assembling credentials: %w", err)
	}

	return authdata.BuildCompleteAuthData(
		webID,
		authdata.LogoutURL(metadata, ex.Tokens.IDToken, redirectURI),
		km, cred,
	)
}

func (f *Flow) metadata() *authdata.MetadataResolver {
	if f.Metadata == nil {
		f.Metadata = authdata.NewMetadataResolver(metadataTTL, f.logger())
	}
	return f.Metadata
}

func (f *Flow) generateKeys() (*keys.KeyMaterial, error) {
	if f.GenerateKeys != nil {
		return f.GenerateKeys()
	}
	return keys.Generate()
}

func (f *Flow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Flow) timeout() time.Duration {
	if f.Config.Timeout <= 0 {
		return config.DefaultTimeout
	}
	return f.Config.Timeout
}

func (f *Flow) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}
