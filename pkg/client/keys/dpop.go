// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ProofOptions are the optional members of a DPoP proof.
type ProofOptions struct {
	// AccessToken binds the proof to a token through the ath claim.
	AccessToken string

	// Nonce echoes a server provided DPoP-Nonce.
	Nonce string

	// Now overrides the issue time.
	Now time.Time
}

// NewProof signs a DPoP proof JWT (RFC 9449) for an HTTP method and target
// URI with the session key.
func NewProof(k *KeyMaterial, method, htu string, opts ProofOptions) (string, error) {
	key, err := k.PrivateKey()
	if err != nil {
		return "", err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	claims := jwt.MapClaims{
		"htm": method,
		"htu": htu,
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	}
	if opts.AccessToken != "" {
		sum := sha256.Sum256([]byte(opts.AccessToken))
		claims["ath"] = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	if opts.Nonce != "" {
		claims["nonce"] = opts.Nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = publicJWK(&key.PublicKey).Public()

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing DPoP proof: %w", err)
	}
	return signed, nil
}
