// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package testprovider runs an in-process Solid OIDC provider for tests.
// It implements discovery, dynamic registration, the code exchange with
// PKCE verification and a JWKS endpoint. Logins are not rendered: tests
// call Authorize with the URL the browser was sent to.
package testprovider

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const keyID = "testprovider"

type grant struct {
	clientID    string
	redirectURI string
	challenge   string
}

// Provider is a running fake identity provider.
type Provider struct {
	Server *httptest.Server

	// WebID is placed in the webid claim of issued id tokens.
	WebID string

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64

	// Set to make the matching endpoint fail.
	FailRegistration bool
	FailToken        bool
	NoDiscovery      bool

	key *rsa.PrivateKey

	mu            sync.Mutex
	clients       map[string][]string
	codes         map[string]grant
	registrations int
	exchanges     int
}

// New starts a provider. Call Close when done.
func New() (*Provider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating provider key: %w", err)
	}

	p := &Provider{
		WebID:     "https://pod.example/profile/card#me",
		ExpiresIn: 3600,
		key:       key,
		clients:   map[string][]string{},
		codes:     map[string]grant{},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/.well-known/openid-configuration", p.handleDiscovery)
	r.Route("/.oidc", func(r chi.Router) {
		r.Post("/reg", p.handleRegister)
		r.Post("/token", p.handleToken)
		r.Get("/jwks", p.handleJWKS)
	})

	p.Server = httptest.NewServer(r)
	return p, nil
}

// Close shuts the server down.
func (p *Provider) Close() {
	p.Server.Close()
}

// Issuer returns the issuer URL with its trailing slash.
func (p *Provider) Issuer() string {
	return p.Server.URL + "/"
}

// Registrations returns how many clients registered.
func (p *Provider) Registrations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registrations
}

// Exchanges returns how many token requests arrived.
func (p *Provider) Exchanges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges
}

// PublicKey returns the id token signing key.
func (p *Provider) PublicKey() *rsa.PublicKey {
	return &p.key.PublicKey
}

// Authorize plays the user approving the request in authURL. It returns the
// redirect the provider would send the browser to.
func (p *Provider) Authorize(authURL string) string {
	u, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	q := u.Query()

	p.mu.Lock()
	defer p.mu.Unlock()

	redirect := q.Get("redirect_uri")
	resp := url.Values{}
	if q.Get("state") != "" {
		resp.Set("state", q.Get("state"))
	}

	uris, ok := p.clients[q.Get("client_id")]
	switch {
	case !ok:
		resp.Set("error", "invalid_client")
	case len(uris) == 0 || uris[0] != redirect:
		resp.Set("error", "invalid_redirect_uri")
	case q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "":
		resp.Set("error", "invalid_request")
		resp.Set("error_description", "PKCE S256 is required")
	default:
		code := uuid.NewString()
		p.codes[code] = grant{
			clientID:    q.Get("client_id"),
			redirectURI: redirect,
			challenge:   q.Get("code_challenge"),
		}
		resp.Set("code", code)
	}
	return redirect + "?" + resp.Encode()
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if p.NoDiscovery {
		http.NotFound(w, r)
		return
	}
	base := p.Server.URL
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                           base + "/",
		"authorization_endpoint":           base + "/.oidc/auth",
		"token_endpoint":                   base + "/.oidc/token",
		"registration_endpoint":            base + "/.oidc/reg",
		"jwks_uri":                         base + "/.oidc/jwks",
		"end_session_endpoint":             base + "/.oidc/session/end",
		"code_challenge_methods_supported": []string{"S256"},
		"scopes_supported":                 []string{"openid", "profile", "offline_access", "webid"},
	})
}

func (p *Provider) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName   string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
		AuthMethod   string   `json:"token_endpoint_auth_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.registrations++

	if p.FailRegistration {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", "registration disabled")
		return
	}
	if len(req.RedirectURIs) != 1 {
		writeError(w, http.StatusBadRequest, "invalid_redirect_uri", "exactly one redirect uri is supported")
		return
	}

	id := uuid.NewString()
	p.clients[id] = req.RedirectURIs
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  id,
		"client_name":                req.ClientName,
		"redirect_uris":              req.RedirectURIs,
		"token_endpoint_auth_method": req.AuthMethod,
	})
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p.mu.Lock()
	p.exchanges++
	g, ok := p.codes[r.PostForm.Get("code")]
	delete(p.codes, r.PostForm.Get("code"))
	fail := p.FailToken
	p.mu.Unlock()

	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	switch {
	case fail:
		writeError(w, http.StatusBadRequest, "invalid_grant", "token endpoint disabled")
		return
	case r.PostForm.Get("grant_type") != "authorization_code":
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	case !ok:
		writeError(w, http.StatusBadRequest, "invalid_grant", "unknown or used code")
		return
	case g.clientID != r.PostForm.Get("client_id"), g.redirectURI != r.PostForm.Get("redirect_uri"):
		writeError(w, http.StatusBadRequest, "invalid_grant", "client or redirect mismatch")
		return
	case base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge:
		writeError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	idToken, err := p.IDToken(g.clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "at-" + uuid.NewString(),
		"refresh_token": "rt-" + uuid.NewString(),
		"id_token":      idToken,
		"token_type":    "DPoP",
		"expires_in":    p.ExpiresIn,
		"scope":         "openid profile offline_access webid",
	})
}

// IDToken signs an id token for audience.
func (p *Provider) IDToken(audience string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   p.WebID,
		"webid": p.WebID,
		"aud":   audience,
		"azp":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Duration(p.ExpiresIn) * time.Second).Unix(),
	})
	tok.Header["kid"] = keyID
	return tok.SignedString(p.key)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck,gosec
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}
