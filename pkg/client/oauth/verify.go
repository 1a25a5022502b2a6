// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carabiner-dev/podauth/pkg/client/keys"
)

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []SigningKey `json:"keys"`
}

// SigningKey is an issuer verification key. Solid providers sign with
// either RSA or EC keys.
type SigningKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// FetchJWKS downloads the key set published at jwksURI.
func FetchJWKS(ctx context.Context, client *http.Client, jwksURI string) (*JWKS, error) {
	if jwksURI == "" {
		return nil, errors.New("issuer does not publish a jwks_uri")
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURI, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var set JWKS
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return &set, nil
}

// VerifyIDToken checks the signature of idToken against set and returns
// its claims. Expiry is not enforced, a stale bundle still has a valid
// signature.
func VerifyIDToken(idToken string, set *JWKS) (jwt.MapClaims, error) {
	if set == nil || len(set.Keys) == 0 {
		return nil, errors.New("no keys found in JWKS")
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token header: %w", err)
	}

	kid, ok := unverified.Header["kid"].(string)
	if !ok {
		kid = set.Keys[0].Kid
	}

	var key *SigningKey
	for i := range set.Keys {
		if set.Keys[i].Kid == kid {
			key = &set.Keys[i]
			break
		}
	}
	if key == nil {
		return nil, fmt.Errorf("key with kid=%q not found in JWKS", kid)
	}

	publicKey, err := key.PublicKey()
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(idToken, claims, func(token *jwt.Token) (any, error) {
		switch key.Kty {
		case "RSA":
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected RSA)", token.Header["alg"])
			}
		case "EC":
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected ECDSA)", token.Header["alg"])
			}
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// PublicKey converts the key to an *rsa.PublicKey or *ecdsa.PublicKey.
func (k *SigningKey) PublicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		pub, err := keys.JWK{Kty: k.Kty, N: k.N, E: k.E}.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("failed to convert JWK to RSA public key: %w", err)
		}
		return pub, nil
	case "EC":
		pub, err := k.ecdsaPublicKey()
		if err != nil {
			return nil, fmt.Errorf("failed to convert JWK to ECDSA public key: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s (only RSA and EC are supported)", k.Kty)
	}
}

func (k *SigningKey) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", k.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode X coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
