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

	"github.com/carabiner-dev/podauth/pkg/client/authdata"
	"github.com/carabiner-dev/podauth/pkg/client/config"
	"github.com/carabiner-dev/podauth/pkg/client/credentials"
	"github.com/carabiner-dev/podauth/pkg/client/storage"
)

var _ command.OptionsSet = (*BundleReadOptions)(nil)

var defaultBundleReadOptions = BundleReadOptions{}

// BundleReadOptions locate a stored auth data bundle
type BundleReadOptions struct {
	BundlePath string
	Issuer     string
}

func (bo *BundleReadOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&bo.BundlePath, "bundle", defaultBundleReadOptions.BundlePath, "path to the auth data bundle, - reads stdin (defaults to the issuer session)")
	cmd.PersistentFlags().StringVar(&bo.Issuer, "issuer", defaultBundleReadOptions.Issuer, "issuer whose session bundle is read (defaults to the default session)")
}

func (bo *BundleReadOptions) Validate() error {
	if bo.BundlePath != "" && bo.Issuer != "" {
		return errors.New("--bundle and --issuer are mutually exclusive")
	}
	return nil
}

func (bo *BundleReadOptions) Config() *command.OptionsSetConfig {
	return nil
}

// ResolvePath returns the bundle file path with the following precedence:
// 1. --bundle flag
// 2. the session of --issuer
// 3. the PODAUTH_OUTPUT bundle path
// 4. the default session
// 5. the default data directory bundle
func (bo *BundleReadOptions) ResolvePath(sessions *credentials.Sessions) (string, error) {
	if bo.BundlePath != "" {
		return bo.BundlePath, nil
	}

	if bo.Issuer != "" {
		return sessions.BundlePath(issuerURL(bo.Issuer))
	}

	if v := os.Getenv("PODAUTH_OUTPUT"); v != "" {
		return v, nil
	}

	if _, issuer, err := sessions.Default(); err == nil {
		return sessions.BundlePath(issuer)
	}

	return storage.DefaultBundlePath(), nil
}

// ReadBundle loads the bundle and its capture time. Bundles read from
// stdin or PODAUTH_AUTH_DATA have no capture time.
func (bo *BundleReadOptions) ReadBundle(ctx context.Context, stdin io.Reader, sessions *credentials.Sessions) (*authdata.Bundle, time.Time, error) {
	if bo.BundlePath == "-" {
		return readBundleFrom(stdin)
	}

	path, err := bo.ResolvePath(sessions)
	if err != nil {
		return nil, time.Time{}, err
	}

	b, capturedAt, err := credentials.DefaultBundleSource(path).Bundle(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, time.Time{}, fmt.Errorf("no auth data found at %s (run 'podauth generate' first)", path)
		}
		return nil, time.Time{}, err
	}
	return b, capturedAt, nil
}

func readBundleFrom(r io.Reader) (*authdata.Bundle, time.Time, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, time.Time{}, errors.New("no auth data received from stdin")
	}
	b, err := authdata.Parse(data)
	if err != nil {
		return nil, time.Time{}, err
	}
	return b, time.Time{}, nil
}

// issuerURL resolves provider preset names.
func issuerURL(issuer string) string {
	if p := config.GetProviderDefaults(issuer); p != nil {
		return p.IssuerURL
	}
	return issuer
}
