// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewProof(t *testing.T) {
	k := sharedKey(t)
	now := time.Unix(1_700_000_000, 0)

	proof, err := NewProof(k, "GET", "https://pod.example/resource", ProofOptions{
		AccessToken: "access-token",
		Nonce:       "n-1",
		Now:         now,
	})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseWithClaims(proof, claims, func(tok *jwt.Token) (any, error) {
		require.Equal(t, "dpop+jwt", tok.Header["typ"])
		return k.PublicJWK.PublicKey()
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	require.Equal(t, "RS256", token.Method.Alg())

	jwk, ok := token.Header["jwk"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, k.PublicJWK.N, jwk["n"])
	require.NotContains(t, jwk, "d")

	sum := sha256.Sum256([]byte("access-token"))
	require.Equal(t, "GET", claims["htm"])
	require.Equal(t, "https://pod.example/resource", claims["htu"])
	require.Equal(t, float64(now.Unix()), claims["iat"])
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), claims["ath"])
	require.Equal(t, "n-1", claims["nonce"])
	require.NotEmpty(t, claims["jti"])
}

func TestNewProofUniqueJTI(t *testing.T) {
	k := sharedKey(t)
	seen := map[string]bool{}
	for range 5 {
		proof, err := NewProof(k, "POST", "https://pod.example/", ProofOptions{})
		require.NoError(t, err)

		claims := jwt.MapClaims{}
		_, _, err = jwt.NewParser().ParseUnverified(proof, claims)
		require.NoError(t, err)
		jti, ok := claims["jti"].(string)
		require.True(t, ok)
		require.False(t, seen[jti])
		seen[jti] = true
		require.NotContains(t, claims, "ath")
	}
}
