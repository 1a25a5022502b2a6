// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/client/config"
	"github.com/carabiner-dev/podauth/pkg/client/credentials"
	"github.com/carabiner-dev/podauth/pkg/client/storage"
)

var _ command.OptionsSet = (*ClearOptions)(nil)

type ClearOptions struct {
	Issuer     string
	BundlePath string
	StoreDir   string
	All        bool
}

var defaultClearOptions = ClearOptions{}

func (co *ClearOptions) Validate() error {
	return nil
}

func (co *ClearOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&co.Issuer, "issuer", "", "issuer whose session is cleared (defaults to the configured issuer)")
	cmd.PersistentFlags().StringVar(&co.BundlePath, "bundle", "", "auth data bundle deleted with --all")
	cmd.PersistentFlags().StringVar(&co.StoreDir, "store-dir", "", "secure store directory (defaults to the XDG data directory)")
	cmd.PersistentFlags().BoolVar(&co.All, "all", false, "also delete the auth data bundle and its session")
}

func (co *ClearOptions) Config() *command.OptionsSetConfig {
	return nil
}

func AddClear(parent *cobra.Command) {
	opts := defaultClearOptions

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the injected session",
		Long: `Removes the auth_data and web_id entries from the secure store.

With --all the auth data bundle and the issuer session are deleted too, so
the next setup runs a browser login.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.Context(), &opts, credentials.DefaultSessions(), cmd.ErrOrStderr())
		},
	}
	opts.AddFlags(cmd)
	parent.AddCommand(cmd)
}

func runClear(ctx context.Context, opts *ClearOptions, sessions *credentials.Sessions, stderr io.Writer) error {
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	storeDir := opts.StoreDir
	if storeDir == "" {
		storeDir = cfg.DataDir
	}
	store, err := storage.NewFileSecureStore(storeDir)
	if err != nil {
		return fmt.Errorf("opening secure store: %w", err)
	}

	// Clear does not regenerate, the coordinator only needs the store
	coord, err := credentials.NewCoordinator(opts.BundlePath, store, credentials.WithAutoRegenerate(false))
	if err != nil {
		return err
	}
	if err := coord.Clear(ctx); err != nil {
		return fmt.Errorf("clearing secure store: %w", err)
	}
	fmt.Fprintln(stderr, "✓ Session removed from the secure store")

	if !opts.All {
		return nil
	}

	if opts.BundlePath != "" {
		if err := storage.NewBundleFile(opts.BundlePath).Delete(ctx); err != nil {
			return fmt.Errorf("deleting auth data: %w", err)
		}
		fmt.Fprintf(stderr, "✓ Deleted %s\n", opts.BundlePath)
		return nil
	}

	issuer := cfg.IssuerURL()
	if opts.Issuer != "" {
		issuer = issuerURL(opts.Issuer)
	}
	if err := sessions.Remove(issuer); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	fmt.Fprintf(stderr, "✓ Session for %s deleted\n", issuer)
	return nil
}
