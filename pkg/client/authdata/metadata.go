// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package authdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/carabiner-dev/podauth/pkg/client/browser"
)

// IssuerMetadata is the OpenID provider configuration of an issuer.
type IssuerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	ResponseModesSupported            []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	DPoPSigningAlgValuesSupported     []string `json:"dpop_signing_alg_values_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
}

// WellKnownPath is appended to the issuer to discover its configuration.
const WellKnownPath = "/.well-known/openid-configuration"

// DeriveMetadata builds the configuration a Community Solid Server serves
// for issuer, without contacting it.
func DeriveMetadata(issuer string) *IssuerMetadata {
	base := strings.TrimSuffix(issuer, "/")
	oidc := base + "/.oidc"
	return &IssuerMetadata{
		Issuer:                            base + "/",
		AuthorizationEndpoint:             oidc + "/auth",
		TokenEndpoint:                     oidc + "/token",
		RegistrationEndpoint:              oidc + "/reg",
		JWKSURI:                           oidc + "/jwks",
		UserinfoEndpoint:                  oidc + "/me",
		EndSessionEndpoint:                oidc + "/session/end",
		IntrospectionEndpoint:             oidc + "/token/introspection",
		RevocationEndpoint:                oidc + "/token/revocation",
		ScopesSupported:                   []string{"openid", "profile", "offline_access", "webid"},
		ResponseTypesSupported:            []string{"code", "id_token", "code id_token"},
		ResponseModesSupported:            []string{"query", "fragment", "form_post"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token", "client_credentials"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"ES256", "RS256"},
		TokenEndpointAuthMethodsSupported: []string{"none", "client_secret_basic", "client_secret_jwt", "client_secret_post", "private_key_jwt"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		DPoPSigningAlgValuesSupported:     []string{"ES256", "RS256"},
		ClaimsSupported:                   []string{"azp", "sub", "webid", "client_id", "iss", "aud", "exp", "iat"},
	}
}

// MetadataResolver discovers issuer metadata through the browser and caches
// the result per issuer.
type MetadataResolver struct {
	cache  *cache.Cache
	logger *zap.Logger
}

// NewMetadataResolver creates a resolver keeping entries for ttl.
func NewMetadataResolver(ttl time.Duration, logger *zap.Logger) *MetadataResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataResolver{
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// Resolve returns the issuer metadata. Discovery failures fall back to the
// derived configuration, which is not cached so a later call can retry.
func (r *MetadataResolver) Resolve(ctx context.Context, f browser.Fetcher, issuer string) *IssuerMetadata {
	key := strings.TrimSuffix(issuer, "/")
	if v, ok := r.cache.Get(key); ok {
		if md, ok := v.(*IssuerMetadata); ok {
			return md
		}
	}

	md, err := discover(ctx, f, key)
	if err != nil {
		r.logger.Warn("issuer discovery failed, using derived metadata",
			zap.String("issuer", issuer), zap.Error(err))
		return DeriveMetadata(issuer)
	}

	r.cache.SetDefault(key, md)
	return md
}

// Forget drops the cached entry for issuer.
func (r *MetadataResolver) Forget(issuer string) {
	r.cache.Delete(strings.TrimSuffix(issuer, "/"))
}

func discover(ctx context.Context, f browser.Fetcher, base string) (*IssuerMetadata, error) {
	resp, err := f.Fetch(ctx, browser.FetchRequest{
		Method:  http.MethodGet,
		URL:     base + WellKnownPath,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetching %s: HTTP %d", WellKnownPath, resp.Status)
	}

	var md IssuerMetadata
	if err := json.Unmarshal([]byte(resp.Body), &md); err != nil {
		return nil, err
	}
	if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" {
		return nil, errors.New("provider configuration lacks authorization or token endpoint")
	}

	// Registration is required by the flow; CSS always serves it at the
	// derived location.
	derived := DeriveMetadata(base)
	if md.Issuer == "" {
		md.Issuer = derived.Issuer
	}
	if md.RegistrationEndpoint == "" {
		md.RegistrationEndpoint = derived.RegistrationEndpoint
	}
	return &md, nil
}
