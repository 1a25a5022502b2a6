// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carabiner-dev/podauth/pkg/client/browser"
	"github.com/carabiner-dev/podauth/pkg/client/config"
	"github.com/carabiner-dev/podauth/pkg/client/credentials"
	"github.com/carabiner-dev/podauth/pkg/client/oauth"
	"github.com/carabiner-dev/podauth/pkg/client/storage"
	"github.com/carabiner-dev/podauth/pkg/logging"
)

// newLauncher returns the browser used by generate and setup.
var newLauncher = func(l *zap.Logger) browser.Launcher {
	return &browser.ChromeLauncher{Logger: l}
}

var _ command.OptionsSet = (*GenerateOptions)(nil)

type GenerateOptions struct {
	IssuerOptions
	Headless        bool
	CredentialsPath string
	OutputPath      string
	Timeout         time.Duration
}

var defaultGenerateOptions = GenerateOptions{}

// Validate the options set
func (gen *GenerateOptions) Validate() error {
	var errs = []error{
		gen.IssuerOptions.Validate(),
	}
	if gen.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (gen *GenerateOptions) AddFlags(cmd *cobra.Command) {
	gen.IssuerOptions.AddFlags(cmd)
	cmd.PersistentFlags().BoolVar(&gen.Headless, "headless", defaultGenerateOptions.Headless, "run the browser without a window")
	cmd.PersistentFlags().StringVar(&gen.CredentialsPath, "credentials", defaultGenerateOptions.CredentialsPath, fmt.Sprintf("test credentials file (default %s)", config.DefaultCredentialsFile))
	cmd.PersistentFlags().StringVar(&gen.OutputPath, "output", defaultGenerateOptions.OutputPath, "where to write the auth data (defaults to the issuer session)")
	cmd.PersistentFlags().DurationVar(&gen.Timeout, "timeout", defaultGenerateOptions.Timeout, fmt.Sprintf("bound for every browser wait (default %s)", config.DefaultTimeout))
}

func (gen *GenerateOptions) Config() *command.OptionsSetConfig {
	return nil
}

// providerConfig builds the run configuration. The issuer is taken from
// --issuer, then PODAUTH_ISSUER, then the credentials file, then the
// config file or built-in default.
func (gen *GenerateOptions) providerConfig() (*config.ProviderConfig, *config.TestCredentials, error) {
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	if gen.CredentialsPath != "" {
		cfg.CredentialsPath = gen.CredentialsPath
	}
	if gen.OutputPath != "" {
		cfg.BundlePath = gen.OutputPath
	}
	if gen.Timeout != 0 {
		cfg.Timeout = gen.Timeout
	}
	if gen.Headless {
		cfg.Headless = true
	}

	creds, err := config.LoadTestCredentials(cfg.CredentialsPath)
	if err != nil {
		return nil, nil, err
	}

	if gen.Issuer == "" && os.Getenv("PODAUTH_ISSUER") == "" && creds.Issuer != "" {
		cfg.Issuer = creds.Issuer
	}
	gen.IssuerOptions.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, creds, nil
}

func AddGenerate(parent *cobra.Command) {
	opts := defaultGenerateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Log in with a browser and write the auth data bundle",
		Long: `Drives a browser through a Solid identity provider login and writes the
complete auth data bundle a client loads to resume the session.

This command will:
1. Register a client with the provider (dynamic client registration)
2. Log in with the test credentials, approve consent and enter the security key
3. Intercept the localhost redirect and exchange the code (PKCE)
4. Generate an RSA key pair for DPoP
5. Save the bundle to --output or to the issuer session directory

Sessions are stored under the XDG data directory with a sessions.json file
tracking which session belongs to which issuer.`,
		Example: `  # Generate with the defaults
  podauth generate

  # Headless against a specific provider
  podauth generate --headless --issuer https://solidcommunity.net/

  # Explicit fixture paths
  podauth generate --credentials test/fixtures/test_credentials.json --output auth-data.json`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runGenerate(cmd.Context(), &opts, credentials.DefaultSessions(), cmd.ErrOrStderr())
			return err
		},
	}
	opts.AddFlags(cmd)
	parent.AddCommand(cmd)
}

// runGenerate authenticates and saves the bundle, returning its path.
func runGenerate(ctx context.Context, opts *GenerateOptions, sessions *credentials.Sessions, stderr io.Writer) (string, error) {
	logger := logging.FromContext(ctx)

	cfg, creds, err := opts.providerConfig()
	if err != nil {
		return "", err
	}

	harness, err := config.LoadHarnessEnv()
	if err != nil {
		return "", err
	}

	output := cfg.BundlePath
	if output == "" {
		output, err = sessions.EnsureBundlePath(cfg.IssuerURL())
		if err != nil {
			return "", err
		}
	}

	flow := &oauth.Flow{
		Config:           cfg,
		Launcher:         newLauncher(logger.Named("browser")),
		Headless:         cfg.Headless,
		InteractionDelay: harness.InteractionDelay,
		Logger:           logger.Named("oauth"),
	}

	fmt.Fprintf(stderr, "Authenticating with %s...\n", cfg.IssuerURL())
	res := flow.Authenticate(ctx, creds)
	if !res.Success {
		return "", fmt.Errorf("authentication failed: %s", res.Error)
	}

	if err := storage.NewBundleFile(output).Save(ctx, res.Bundle); err != nil {
		return "", fmt.Errorf("saving auth data: %w", err)
	}

	fmt.Fprintf(stderr, "✓ Authentication successful\n")
	fmt.Fprintf(stderr, "  WebID:     %s\n", res.Bundle.WebID)
	fmt.Fprintf(stderr, "  Auth data: %s\n", output)
	return output, nil
}
