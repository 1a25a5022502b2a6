// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package keys generates the RSA keypair bound to a session and exports it
// as JWK and PEM.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// KeySize is the modulus size of generated keys.
	KeySize = 2048

	// Algorithm is the JWS algorithm the keys are used with.
	Algorithm = "RS256"

	pemPublicKey  = "PUBLIC KEY"
	pemPrivateKey = "RSA PRIVATE KEY"
)

// JWK is an RSA JSON Web Key. Private members are only set on private keys.
type JWK struct {
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`

	D  string `json:"d,omitempty"`
	P  string `json:"p,omitempty"`
	Q  string `json:"q,omitempty"`
	DP string `json:"dp,omitempty"`
	DQ string `json:"dq,omitempty"`
	QI string `json:"qi,omitempty"`
}

// KeyPair is the PEM text form of the keypair.
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// KeyMaterial is the keypair in both its encodings. The JSON form of this
// struct is what ends up in a bundle's rsa_info field.
type KeyMaterial struct {
	KeyPair    KeyPair `json:"rsa"`
	PublicJWK  JWK     `json:"pubKeyJwk"`
	PrivateJWK JWK     `json:"prvKeyJwk"`

	key *rsa.PrivateKey
}

// Generate creates a new 2048-bit keypair with e=65537.
func Generate() (*KeyMaterial, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom creates a keypair reading entropy from r.
func GenerateFrom(r io.Reader) (*KeyMaterial, error) {
	key, err := rsa.GenerateKey(r, KeySize)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return FromPrivateKey(key)
}

// FromPrivateKey wraps an existing key.
func FromPrivateKey(key *rsa.PrivateKey) (*KeyMaterial, error) {
	if key == nil || len(key.Primes) != 2 {
		return nil, errors.New("an RSA key with exactly two primes is required")
	}
	key.Precompute()

	pubPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	pub := publicJWK(&key.PublicKey)
	priv := pub
	priv.D = b64(key.D)
	priv.P = b64(key.Primes[0])
	priv.Q = b64(key.Primes[1])
	priv.DP = b64(key.Precomputed.Dp)
	priv.DQ = b64(key.Precomputed.Dq)
	priv.QI = b64(key.Precomputed.Qinv)

	return &KeyMaterial{
		KeyPair: KeyPair{
			PublicKey:  pubPEM,
			PrivateKey: EncodePrivateKeyPEM(key),
		},
		PublicJWK:  pub,
		PrivateJWK: priv,
		key:        key,
	}, nil
}

// PrivateKey returns the RSA key, decoding it from the PEM form when the
// material was loaded from JSON.
func (k *KeyMaterial) PrivateKey() (*rsa.PrivateKey, error) {
	if k.key != nil {
		return k.key, nil
	}
	key, err := ParsePrivateKeyPEM(k.KeyPair.PrivateKey)
	if err != nil {
		return nil, err
	}
	k.key = key
	return key, nil
}

// Marshal serializes the key material to its JSON text form.
func (k *KeyMaterial) Marshal() (string, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("marshaling key material: %w", err)
	}
	return string(data), nil
}

// ParseKeyMaterial reads key material serialized with Marshal.
func ParseKeyMaterial(s string) (*KeyMaterial, error) {
	var k KeyMaterial
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return nil, fmt.Errorf("parsing key material: %w", err)
	}
	if k.KeyPair.PrivateKey == "" {
		return nil, errors.New("key material has no private key")
	}
	return &k, nil
}

// EncodePublicKeyPEM encodes the DER SubjectPublicKeyInfo (algorithm
// identifier plus key bit string) as a PUBLIC KEY PEM block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der})), nil
}

// EncodePrivateKeyPEM encodes the PKCS#1 RSAPrivateKey sequence (version,
// modulus, exponents, primes and CRT values) as an RSA PRIVATE KEY block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(key)
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}))
}

// ParsePublicKeyPEM decodes a PUBLIC KEY block.
func ParsePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != pemPublicKey {
		return nil, errors.New("no PUBLIC KEY PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", key)
	}
	return pub, nil
}

// ParsePrivateKeyPEM decodes an RSA PRIVATE KEY block.
func ParsePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != pemPrivateKey {
		return nil, errors.New("no RSA PRIVATE KEY PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return key, nil
}

// PublicKey converts the JWK back into an RSA public key.
func (j JWK) PublicKey() (*rsa.PublicKey, error) {
	if j.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type: %s (only RSA is supported)", j.Kty)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// Public returns the JWK without its private members.
func (j JWK) Public() JWK {
	return JWK{Kty: j.Kty, Alg: j.Alg, Use: j.Use, Kid: j.Kid, N: j.N, E: j.E}
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint of the key.
func (j JWK) Thumbprint() string {
	// Members in lexicographic order, no whitespace
	canonical := fmt.Sprintf(`{"e":%q,"kty":%q,"n":%q}`, j.E, j.Kty, j.N)
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func publicJWK(pub *rsa.PublicKey) JWK {
	j := JWK{
		Kty: "RSA",
		Alg: Algorithm,
		N:   b64(pub.N),
		E:   b64(big.NewInt(int64(pub.E))),
	}
	j.Kid = j.Thumbprint()
	return j
}

func b64(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}
