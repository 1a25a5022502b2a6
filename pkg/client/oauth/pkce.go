// SPDX-FileCopyrightText: Copyright 2025 Carabiner Systems, Inc

package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// MethodS256 is the only code challenge method we use
const MethodS256 = "S256"

// PKCEChallenge holds PKCE code verifier and challenge
type PKCEChallenge struct {
	Verifier  string
	Challenge string
	Method    string // Always "S256"
}

// GeneratePKCEChallenge generates a new PKCE code verifier and challenge
// Following RFC 7636
func GeneratePKCEChallenge() *PKCEChallenge {
	verifier := GenerateVerifier()
	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: GenerateChallenge(verifier),
		Method:    MethodS256,
	}
}

// GenerateVerifier returns 32 random bytes encoded as unpadded base64url,
// a 43 character verifier.
func GenerateVerifier() string {
	return randomString(32)
}

// GenerateChallenge derives the S256 challenge: BASE64URL(SHA256(verifier))
func GenerateChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomString reads n bytes from the system CSPRNG. crypto/rand.Read
// never returns an error as of Go 1.24.
func randomString(n int) string {
	b := make([]byte, n)
	rand.Read(b) //nolint:errcheck
	return base64.RawURLEncoding.EncodeToString(b)
}
