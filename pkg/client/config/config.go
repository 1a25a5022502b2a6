// SPDX-FileCopyrightText: Copyright 2025 Carabiner Systems, Inc

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName is used for the XDG directories and environment prefixes.
const AppName = "podauth"

// ProviderConfig holds the connection parameters for one identity provider.
// It is built once per run and treated as read only afterwards.
type ProviderConfig struct {
	// Issuer is the base URL of the identity provider (or a preset name)
	Issuer     string        `yaml:"issuer"`
	Port       int           `yaml:"port"`        // local redirect port, nothing listens there
	ClientName string        `yaml:"client_name"` // shown on the consent screen
	Scopes     []string      `yaml:"scopes"`
	Timeout    time.Duration `yaml:"timeout"`

	// Fixture paths
	CredentialsPath string `yaml:"credentials_path"`
	BundlePath      string `yaml:"bundle_path"`

	Headless bool `yaml:"headless"`

	// Storage paths (auto-populated from XDG)
	DataDir   string `yaml:"-"`
	ConfigDir string `yaml:"-"`
}

// Load loads configuration from a file
func Load(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.populateDirs()
	return cfg, nil
}

// Defaults returns a configuration with every field set to its default.
func Defaults() *ProviderConfig {
	cfg := &ProviderConfig{
		Issuer:          DefaultIssuer,
		Port:            DefaultPort,
		ClientName:      DefaultClientName,
		Scopes:          append([]string{}, DefaultScopes...),
		Timeout:         DefaultTimeout,
		CredentialsPath: DefaultCredentialsFile,
	}
	cfg.populateDirs()
	return cfg
}

// LoadWithDefaults loads config from the default location or returns
// defaults. A .env file in the working directory is loaded first so its
// variables take part in the environment overrides.
func LoadWithDefaults() (*ProviderConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	configPath := filepath.Join(xdg.ConfigHome, AppName, "config.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Defaults()
	}

	if err := cfg.ApplyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ProviderConfig) populateDirs() {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(xdg.DataHome, AppName)
	}
	if c.ConfigDir == "" {
		c.ConfigDir = filepath.Join(xdg.ConfigHome, AppName)
	}
}

// ApplyEnvVars applies environment variable overrides
func (c *ProviderConfig) ApplyEnvVars() error {
	if v := os.Getenv("PODAUTH_ISSUER"); v != "" {
		c.Issuer = v
	}
	if v := os.Getenv("PODAUTH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PODAUTH_PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("PODAUTH_CLIENT_NAME"); v != "" {
		c.ClientName = v
	}
	if v := os.Getenv("PODAUTH_SCOPES"); v != "" {
		c.Scopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
	if v := os.Getenv("PODAUTH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing PODAUTH_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("PODAUTH_CREDENTIALS"); v != "" {
		c.CredentialsPath = v
	}
	if v := os.Getenv("PODAUTH_OUTPUT"); v != "" {
		c.BundlePath = v
	}
	if v := os.Getenv("PODAUTH_HEADLESS"); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing PODAUTH_HEADLESS: %w", err)
		}
		c.Headless = headless
	}
	return nil
}

// IssuerURL returns the issuer URL, resolving provider preset names.
func (c *ProviderConfig) IssuerURL() string {
	if p := GetProviderDefaults(c.Issuer); p != nil {
		return p.IssuerURL
	}
	return c.Issuer
}

// RedirectURI returns the local callback address. It is always
// http://localhost:{port}/
func (c *ProviderConfig) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/", c.Port)
}

// ScopeString returns the scopes as a space-delimited string.
func (c *ProviderConfig) ScopeString() string {
	return strings.Join(c.Scopes, " ")
}

// Validate checks that required configuration is present
func (c *ProviderConfig) Validate() error {
	var errs []error
	if c.IssuerURL() == "" {
		errs = append(errs, errors.New("issuer is required (set via --issuer flag or PODAUTH_ISSUER env var)"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid redirect port %d", c.Port))
	}
	if len(c.Scopes) == 0 {
		errs = append(errs, errors.New("at least one scope is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}
