// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"

	"github.com/carabiner-dev/podauth/pkg/client/authdata"
	"github.com/carabiner-dev/podauth/pkg/client/credentials"
	"github.com/carabiner-dev/podauth/pkg/client/oauth"
)

var _ command.OptionsSet = (*StatusOptions)(nil)

type StatusOptions struct {
	BundleReadOptions
	SkipExpiry    bool
	SkipSignature bool
}

var defaultStatusOptions = StatusOptions{}

func (so *StatusOptions) Validate() error {
	var errs = []error{
		so.BundleReadOptions.Validate(),
	}
	return errors.Join(errs...)
}

func (so *StatusOptions) AddFlags(cmd *cobra.Command) {
	so.BundleReadOptions.AddFlags(cmd)
	cmd.PersistentFlags().BoolVar(&so.SkipExpiry, "skip-expiry", false, "do not fail when the tokens are expired")
	cmd.PersistentFlags().BoolVar(&so.SkipSignature, "skip-signature", false, "skip id token signature verification")
}

func (so *StatusOptions) Config() *command.OptionsSetConfig {
	return nil
}

func AddStatus(parent *cobra.Command) {
	opts := defaultStatusOptions

	cmd := &cobra.Command{
		Use:   "status [bundle]",
		Short: "Check the stored auth data",
		Long: `Check the stored auth data bundle.

This command reads the bundle and checks:
- Token expiry (a bundle expiring within a minute needs regeneration)
- The id token signature against the issuer JWKS (unless --skip-signature)
- The DPoP key material can be decoded

The bundle can be provided via --bundle flag or as the first argument.`,
		Example: `  # Check the default session
  podauth status

  # Check a bundle file
  podauth status auth-data.json

  # Only report, never fail on expiry
  podauth status --skip-expiry --skip-signature`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.BundlePath == "" && len(args) > 0 {
				opts.BundlePath = args[0]
			}
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), &opts, credentials.DefaultSessions(), cmd.InOrStdin(), cmd.OutOrStdout(), http.DefaultClient, time.Now())
		},
	}
	opts.AddFlags(cmd)
	parent.AddCommand(cmd)
}

func runStatus(ctx context.Context, opts *StatusOptions, sessions *credentials.Sessions, stdin io.Reader, out io.Writer, client *http.Client, now time.Time) error {
	b, capturedAt, err := opts.ReadBundle(ctx, stdin, sessions)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Auth Data:")
	fmt.Fprintln(out, "──────────")
	fmt.Fprintf(out, "  WebID:      %s\n", b.WebID)
	if b.AuthResponse.Issuer != nil {
		fmt.Fprintf(out, "  Issuer:     %s\n", b.AuthResponse.Issuer.Issuer)
	}
	fmt.Fprintf(out, "  Client ID:  %s\n", b.AuthResponse.ClientID)
	if !capturedAt.IsZero() {
		fmt.Fprintf(out, "  Captured:   %s\n", capturedAt.Format(time.RFC3339))
	}

	exp, src := authdata.ExpiryOf(b, capturedAt)
	if src != authdata.SourceNone {
		fmt.Fprintf(out, "  Expires:    %s (from %s)\n", exp.Format(time.RFC3339), src)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Validation:")
	fmt.Fprintln(out, "───────────")

	var failed []error

	if _, err := b.KeyMaterial(); err != nil {
		fmt.Fprintf(out, "  ❌ DPoP key material is unreadable: %v\n", err)
		failed = append(failed, err)
	} else {
		fmt.Fprintln(out, "  ✅ DPoP key material decodes")
	}

	var expiryErr error
	switch {
	case src == authdata.SourceNone:
		fmt.Fprintln(out, "  ❌ No usable expiry, regeneration needed")
		expiryErr = errors.New("auth data has no usable expiry")
	case authdata.IsExpired(b, capturedAt, now):
		fmt.Fprintf(out, "  ❌ Tokens are EXPIRED or expire within %s\n", authdata.ExpiryBuffer)
		expiryErr = errors.New("auth data is expired")
	default:
		fmt.Fprintf(out, "  ✅ Tokens valid (expire in %v)\n", exp.Sub(now).Round(time.Second))
	}
	if expiryErr != nil {
		if opts.SkipExpiry {
			fmt.Fprintln(out, "  ⚠️  Expiration failure ignored")
		} else {
			failed = append(failed, expiryErr)
		}
	}

	if opts.SkipSignature {
		fmt.Fprintln(out, "  ⚠️  Signature verification skipped")
	} else if err := verifyBundleIDToken(ctx, client, b); err != nil {
		fmt.Fprintf(out, "  ❌ Signature verification FAILED: %v\n", err)
		failed = append(failed, fmt.Errorf("signature verification failed: %w", err))
	} else {
		fmt.Fprintln(out, "  ✅ ID token signature is valid")
	}

	return errors.Join(failed...)
}

// verifyBundleIDToken checks the id token against the JWKS of the issuer
// recorded in the bundle.
func verifyBundleIDToken(ctx context.Context, client *http.Client, b *authdata.Bundle) error {
	idToken := b.IDToken()
	if idToken == "" {
		return errors.New("bundle has no id token")
	}
	if b.AuthResponse.Issuer == nil {
		return errors.New("bundle has no issuer metadata")
	}

	jwksURI := b.AuthResponse.Issuer.JWKSURI
	if jwksURI == "" {
		jwksURI = authdata.DeriveMetadata(b.AuthResponse.Issuer.Issuer).JWKSURI
	}

	set, err := oauth.FetchJWKS(ctx, client, jwksURI)
	if err != nil {
		return err
	}
	_, err = oauth.VerifyIDToken(idToken, set)
	return err
}
