// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
issuer: https://idp.example/
port: 5555
scopes: [openid, webid]
timeout: 90s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://idp.example/", cfg.Issuer)
	require.Equal(t, 5555, cfg.Port)
	require.Equal(t, []string{"openid", "webid"}, cfg.Scopes)
	require.Equal(t, 90*time.Second, cfg.Timeout)
	// Unset keys keep their defaults
	require.Equal(t, DefaultClientName, cfg.ClientName)
	require.NotEmpty(t, cfg.DataDir)
}

func TestRedirectURI(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 44007
	require.Equal(t, "http://localhost:44007/", cfg.RedirectURI())
}

func TestApplyEnvVars(t *testing.T) {
	t.Setenv("PODAUTH_ISSUER", "inrupt")
	t.Setenv("PODAUTH_PORT", "4400")
	t.Setenv("PODAUTH_SCOPES", "openid, webid")
	t.Setenv("PODAUTH_TIMEOUT", "2m")

	cfg := Defaults()
	require.NoError(t, cfg.ApplyEnvVars())
	require.Equal(t, Inrupt.IssuerURL, cfg.IssuerURL())
	require.Equal(t, 4400, cfg.Port)
	require.Equal(t, []string{"openid", "webid"}, cfg.Scopes)
	require.Equal(t, 2*time.Minute, cfg.Timeout)

	t.Setenv("PODAUTH_PORT", "nope")
	require.Error(t, cfg.ApplyEnvVars())
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Scopes = nil
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrConfig)
	require.ErrorContains(t, err, "scope")

	cfg = Defaults()
	cfg.Port = 0
	require.Error(t, cfg.Validate())
}

func TestLoadHarnessEnv(t *testing.T) {
	h, err := LoadHarnessEnv()
	require.NoError(t, err)
	require.True(t, h.AutoRegenerate)
	require.Zero(t, h.InteractionDelay)

	t.Setenv("PODAUTH_AUTO_REGENERATE", "false")
	t.Setenv("PODAUTH_INTERACTION_DELAY", "250ms")
	h, err = LoadHarnessEnv()
	require.NoError(t, err)
	require.False(t, h.AutoRegenerate)
	require.Equal(t, 250*time.Millisecond, h.InteractionDelay)
}

func TestLoadTestCredentials(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTestCredentials(filepath.Join(dir, "nope.json"))
		require.ErrorIs(t, err, ErrConfig)
		require.ErrorContains(t, err, "create it")
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := LoadTestCredentials(path)
		require.ErrorIs(t, err, ErrConfig)
	})

	t.Run("missing field", func(t *testing.T) {
		path := filepath.Join(dir, "partial.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"email":"a@b.c"}`), 0o600))
		_, err := LoadTestCredentials(path)
		require.ErrorContains(t, err, "password")
	})

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"email": "a@b.c", "password": "pw", "securityKey": "k",
			"webId": "https://pod.example/profile/card#me",
			"podUrl": "https://pod.example/", "issuer": "https://idp.example/"
		}`), 0o600))
		creds, err := LoadTestCredentials(path)
		require.NoError(t, err)
		require.Equal(t, "k", creds.SecurityKey)
		require.Equal(t, "https://pod.example/profile/card#me", creds.WebID)
	})
}
