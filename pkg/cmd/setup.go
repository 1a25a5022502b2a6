// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/client/authdata"
	"github.com/carabiner-dev/podauth/pkg/client/config"
	"github.com/carabiner-dev/podauth/pkg/client/credentials"
	"github.com/carabiner-dev/podauth/pkg/client/oauth"
	"github.com/carabiner-dev/podauth/pkg/client/storage"
	"github.com/carabiner-dev/podauth/pkg/logging"
)

var _ command.OptionsSet = (*SetupOptions)(nil)

type SetupOptions struct {
	IssuerOptions
	Headless        bool
	CredentialsPath string
	BundlePath      string
	StoreDir        string
	NoRegenerate    bool
}

var defaultSetupOptions = SetupOptions{}

func (so *SetupOptions) Validate() error {
	return so.IssuerOptions.Validate()
}

func (so *SetupOptions) AddFlags(cmd *cobra.Command) {
	so.IssuerOptions.AddFlags(cmd)
	cmd.PersistentFlags().BoolVar(&so.Headless, "headless", defaultSetupOptions.Headless, "run the browser without a window when regenerating")
	cmd.PersistentFlags().StringVar(&so.CredentialsPath, "credentials", defaultSetupOptions.CredentialsPath, "test credentials file used when regenerating")
	cmd.PersistentFlags().StringVar(&so.BundlePath, "bundle", defaultSetupOptions.BundlePath, "auth data bundle path (defaults to the issuer session)")
	cmd.PersistentFlags().StringVar(&so.StoreDir, "store-dir", defaultSetupOptions.StoreDir, "secure store directory (defaults to the XDG data directory)")
	cmd.PersistentFlags().BoolVar(&so.NoRegenerate, "no-regenerate", defaultSetupOptions.NoRegenerate, "fail instead of regenerating stale auth data")
}

func (so *SetupOptions) Config() *command.OptionsSetConfig {
	return nil
}

func AddSetup(parent *cobra.Command) {
	opts := defaultSetupOptions

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Inject a fresh session into the secure store",
		Long: `Loads the stored auth data, regenerates it with a browser login when it
is missing or expires within a minute, and writes it to the secure store
under the auth_data and web_id keys.

Regeneration is controlled by PODAUTH_AUTO_REGENERATE (default true) and
--no-regenerate. PODAUTH_AUTH_DATA may hold an inline bundle that is used
before the bundle file.`,
		Example: `  # Prepare the session before a test run
  podauth setup --headless

  # Fail when the stored tokens are stale
  podauth setup --no-regenerate`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runSetup(cmd.Context(), &opts, credentials.DefaultSessions(), cmd.ErrOrStderr())
			return err
		},
	}
	opts.AddFlags(cmd)
	parent.AddCommand(cmd)
}

// newCoordinator wires the coordinator the setup and clear commands share.
func newCoordinator(ctx context.Context, opts *SetupOptions, sessions *credentials.Sessions) (*credentials.Coordinator, error) {
	logger := logging.FromContext(ctx)

	cfg, err := config.LoadWithDefaults()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	opts.IssuerOptions.Apply(cfg)
	if opts.CredentialsPath != "" {
		cfg.CredentialsPath = opts.CredentialsPath
	}
	if opts.Headless {
		cfg.Headless = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	harness, err := config.LoadHarnessEnv()
	if err != nil {
		return nil, err
	}

	bundlePath := opts.BundlePath
	if bundlePath == "" {
		bundlePath = cfg.BundlePath
	}
	if bundlePath == "" {
		bundlePath, err = sessions.EnsureBundlePath(cfg.IssuerURL())
		if err != nil {
			return nil, err
		}
	}

	storeDir := opts.StoreDir
	if storeDir == "" {
		storeDir = cfg.DataDir
	}
	store, err := storage.NewFileSecureStore(storeDir)
	if err != nil {
		return nil, fmt.Errorf("opening secure store: %w", err)
	}

	flow := &oauth.Flow{
		Config:           cfg,
		Launcher:         newLauncher(logger.Named("browser")),
		Headless:         cfg.Headless,
		InteractionDelay: harness.InteractionDelay,
		Logger:           logger.Named("oauth"),
	}

	return credentials.NewCoordinator(bundlePath, store,
		credentials.WithAuthenticator(flow),
		credentials.WithAutoRegenerate(harness.AutoRegenerate && !opts.NoRegenerate),
		credentials.WithCredentialsFile(cfg.CredentialsPath),
		credentials.WithSource(credentials.DefaultBundleSource(bundlePath)),
		credentials.WithLogger(logger.Named("credentials")),
	)
}

func runSetup(ctx context.Context, opts *SetupOptions, sessions *credentials.Sessions, stderr io.Writer) (*authdata.Bundle, error) {
	coord, err := newCoordinator(ctx, opts, sessions)
	if err != nil {
		return nil, err
	}

	b, err := coord.Setup(ctx)
	if err != nil {
		if errors.Is(err, credentials.ErrStale) {
			fmt.Fprintf(stderr, "✗ Auth data in %s is stale\n", coord.BundlePath())
		}
		return nil, fmt.Errorf("session setup failed: %w", err)
	}

	trail := make([]string, 0, len(coord.Trail()))
	for _, s := range coord.Trail() {
		trail = append(trail, string(s))
	}

	fmt.Fprintf(stderr, "✓ Session injected for %s\n", b.WebID)
	fmt.Fprintf(stderr, "  Auth data: %s\n", coord.BundlePath())
	if exp, src := authdata.ExpiryOf(b, time.Time{}); src != authdata.SourceNone {
		fmt.Fprintf(stderr, "  Expires:   %s\n", exp.Format(time.RFC3339))
	}
	fmt.Fprintf(stderr, "  Steps:     %s\n", strings.Join(trail, " -> "))
	return b, nil
}
