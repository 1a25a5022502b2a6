// SPDX-FileCopyrightText: Copyright 2025 Carabiner Systems, Inc

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultIssuer          = "https://pods.dev.solidcommunity.au/"
	DefaultPort            = 44007
	DefaultClientName      = "podauth"
	DefaultTimeout         = 60 * time.Second
	DefaultCredentialsFile = "test/fixtures/test_credentials.json"
)

// DefaultScopes are requested when none are configured. webid makes the
// provider put the WebID claim into the ID token.
var DefaultScopes = []string{"openid", "profile", "offline_access", "webid"}

// ErrConfig marks configuration and input errors. They are never retried.
var ErrConfig = errors.New("configuration error")

// ProviderPreset holds identity provider defaults
type ProviderPreset struct {
	IssuerURL string
}

// Known Solid identity providers, addressable by name on the command line.
var (
	SolidCommunityAU = ProviderPreset{
		IssuerURL: "https://pods.dev.solidcommunity.au/",
	}

	SolidCommunityNet = ProviderPreset{
		IssuerURL: "https://solidcommunity.net/",
	}

	Inrupt = ProviderPreset{
		IssuerURL: "https://login.inrupt.com/",
	}
)

// GetProviderDefaults returns the preset for a provider name, or nil when
// name is not a known preset (usually because it already is a URL).
func GetProviderDefaults(name string) *ProviderPreset {
	switch strings.ToLower(name) {
	case "solidcommunity.au", "solidcommunity-au":
		return &SolidCommunityAU
	case "solidcommunity.net", "solidcommunity":
		return &SolidCommunityNet
	case "inrupt":
		return &Inrupt
	default:
		return nil
	}
}

// HarnessEnv holds the toggles the surrounding test harness reads from the
// environment. The core only ever sees the resolved values.
type HarnessEnv struct {
	AutoRegenerate   bool          `env:"PODAUTH_AUTO_REGENERATE" envDefault:"true"`
	InteractionDelay time.Duration `env:"PODAUTH_INTERACTION_DELAY" envDefault:"0s"`
}

// LoadHarnessEnv parses the harness toggles from the environment.
func LoadHarnessEnv() (HarnessEnv, error) {
	var h HarnessEnv
	if err := env.Parse(&h); err != nil {
		return h, fmt.Errorf("%w: parsing harness environment: %w", ErrConfig, err)
	}
	return h, nil
}
